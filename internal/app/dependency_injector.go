package app

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"

	"github.com/dskam73/interview-automation/internal/infra/config"
	"github.com/dskam73/interview-automation/internal/infra/notify"
	"github.com/dskam73/interview-automation/internal/infra/queue"
	blobstore "github.com/dskam73/interview-automation/internal/infra/store/blob"
	jobstore "github.com/dskam73/interview-automation/internal/infra/store/job"
	"github.com/dskam73/interview-automation/internal/infra/textgen"
	"github.com/dskam73/interview-automation/internal/infra/transcribe"
	mio "github.com/dskam73/interview-automation/internal/libs/minio"
	natsq "github.com/dskam73/interview-automation/internal/libs/nats"
	rediscli "github.com/dskam73/interview-automation/internal/libs/redis"
	"github.com/dskam73/interview-automation/internal/media"
	"github.com/dskam73/interview-automation/internal/transport"
	"github.com/dskam73/interview-automation/internal/usecase"
	"github.com/dskam73/interview-automation/internal/worker"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

const defaultCfgPath = "./configs/local.yaml"

type Router interface {
	MountRoutes(*http.ServeMux) *http.ServeMux
}

// JobStore is the full persistence surface; the worker and the usecase each
// consume a subset of it.
type JobStore interface {
	usecase.JobStore
}

type BlobStore interface {
	usecase.BlobStore
	worker.BlobCleaner
}

type JobQueue interface {
	usecase.JobQueue
	worker.Queue
}

type dependencyInjector struct {
	cfg    *config.Config
	logger *slog.Logger

	redis     *redis.Client
	jobStore  JobStore
	blobStore BlobStore

	natsConn *nats.Conn
	js       nats.JetStreamContext
	jobQueue JobQueue

	chunker     worker.Chunker
	transcriber worker.Transcriber
	textgen     worker.TextGenerator
	notifier    worker.Notifier

	worker *worker.Worker
	runner *worker.Runner

	usecase transport.Usecase
	handler transport.Handler
	router  Router
}

func newDI() *dependencyInjector {
	return &dependencyInjector{}
}

func (di *dependencyInjector) Config() *config.Config {
	if di.cfg == nil {
		path := os.Getenv("CONFIG_PATH")
		if path == "" {
			path = defaultCfgPath
		}
		di.cfg = config.MustLoad(path)
	}

	return di.cfg
}

func (di *dependencyInjector) Logger() *slog.Logger {
	if di.logger == nil {
		di.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}

	slog.SetDefault(di.logger)
	return di.logger
}

func (di *dependencyInjector) RedisClient(ctx context.Context) *redis.Client {
	if di.redis == nil {
		cfg := di.Config().Redis
		client, err := rediscli.NewClient(rediscli.Config{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
		if err != nil {
			log.Fatalf("redis client: %+v", err)
		}

		di.redis = client
		di.Logger().Info("connected to redis", slog.String("addr", cfg.Addr))
	}
	return di.redis
}

func (di *dependencyInjector) JobStore(ctx context.Context) JobStore {
	if di.jobStore == nil {
		switch di.Config().Store.Kind {
		case "redis":
			di.jobStore = jobstore.NewRedisStore(di.RedisClient(ctx))
			di.Logger().Info("using redis job store")
		default:
			di.jobStore = jobstore.NewMemoryStore()
			di.Logger().Info("using in-memory job store")
		}
	}
	return di.jobStore
}

func (di *dependencyInjector) BlobStore(ctx context.Context) BlobStore {
	if di.blobStore == nil {
		cfg := di.Config()

		local, err := blobstore.NewLocalStore(cfg.Blob.BaseDir)
		if err != nil {
			log.Fatalf("blob store local: %+v", err)
		}
		di.Logger().Info("initialized local blob store", slog.String("base_dir", cfg.Blob.BaseDir))

		switch cfg.Blob.Kind {
		case "minio", "dual":
			remote, err := blobstore.NewMinIOStore(ctx, mio.Config{
				Endpoint:        cfg.MinIO.Endpoint,
				AccessKeyID:     cfg.MinIO.AccessKeyID,
				SecretAccessKey: cfg.MinIO.SecretAccessKey,
				UseSSL:          cfg.MinIO.UseSSL,
				Bucket:          cfg.MinIO.Bucket,
				BasePath:        "jobs",
			})
			if err != nil {
				log.Fatalf("blob store minio: %+v", err)
			}
			di.Logger().Info(
				"initialized MinIO blob store",
				slog.String("endpoint", cfg.MinIO.Endpoint),
				slog.String("bucket", cfg.MinIO.Bucket),
			)

			if cfg.Blob.Kind == "minio" {
				di.blobStore = remote
			} else {
				di.blobStore = blobstore.NewDualStore(local, remote)
			}
		default:
			di.blobStore = local
		}
	}

	return di.blobStore
}

func (di *dependencyInjector) NATSConn(ctx context.Context) *nats.Conn {
	if di.natsConn == nil {
		cfg := di.Config()
		nc, err := natsq.NewConnect(cfg.NATS.URL, natsq.Config{
			Name:          cfg.NATS.QueueName,
			MaxReconnects: cfg.NATS.MaxReconnects,
		})
		if err != nil {
			log.Fatalf("NATS connect: %+v", err)
		}
		di.natsConn = nc
	}
	return di.natsConn
}

func (di *dependencyInjector) JetStream(ctx context.Context) nats.JetStreamContext {
	if di.js == nil {
		js, err := natsq.NewJetStream(di.NATSConn(ctx), &nats.StreamConfig{
			Name:     queue.StreamName(),
			Subjects: []string{di.Config().NATS.Subject},
			Storage:  nats.FileStorage,
			Replicas: 1,
			MaxAge:   2 * di.Config().Retention,
		})
		if err != nil {
			log.Fatalf("DI JetStream: %+v", err)
		}

		di.js = js
	}
	return di.js
}

func (di *dependencyInjector) JobQueue(ctx context.Context) JobQueue {
	if di.jobQueue == nil {
		di.jobQueue = queue.New(di.JetStream(ctx), di.Config().NATS.Subject)
	}
	return di.jobQueue
}

func (di *dependencyInjector) Chunker() worker.Chunker {
	if di.chunker == nil {
		cfg := di.Config().Media
		di.chunker = media.NewChunker(media.Config{
			FFmpegPath:        cfg.FFmpegPath,
			FFprobePath:       cfg.FFprobePath,
			MaxSegmentBytes:   cfg.MaxSegmentMb << 20,
			MinSegmentSeconds: cfg.MinSegmentSeconds,
			MaxSegmentSeconds: cfg.MaxSegmentSeconds,
			Bitrate:           cfg.Bitrate,
			SampleRate:        cfg.SampleRate,
			Channels:          cfg.Channels,
		})
	}
	return di.chunker
}

func (di *dependencyInjector) Transcriber() worker.Transcriber {
	if di.transcriber == nil {
		cfg := di.Config().OpenAI
		di.transcriber = transcribe.New(transcribe.Config{
			APIKey:         cfg.APIKey,
			RequestTimeout: cfg.RequestTimeout,
			MaxRetries:     cfg.MaxRetries,
		})
	}
	return di.transcriber
}

func (di *dependencyInjector) TextGenerator() worker.TextGenerator {
	if di.textgen == nil {
		cfg := di.Config().OpenAI
		di.textgen = textgen.New(textgen.Config{
			APIKey:         cfg.APIKey,
			Model:          cfg.ChatModel,
			MaxTokens:      cfg.MaxTokens,
			RequestTimeout: cfg.RequestTimeout,
			MaxRetries:     cfg.MaxRetries,
		})
	}
	return di.textgen
}

func (di *dependencyInjector) Notifier() worker.Notifier {
	if di.notifier == nil {
		cfg := di.Config().SMTP
		if cfg.Host == "" {
			di.notifier = notify.NewNoopNotifier()
			di.Logger().Warn("smtp host is empty, notifications disabled")
		} else {
			di.notifier = notify.NewEmailNotifier(notify.Config{
				Host:     cfg.Host,
				Port:     cfg.Port,
				Username: cfg.Username,
				Password: cfg.Password,
				From:     cfg.From,
			})
		}
	}
	return di.notifier
}

func (di *dependencyInjector) Worker(ctx context.Context) *worker.Worker {
	if di.worker == nil {
		cfg := di.Config()
		di.worker = worker.New(
			di.JobStore(ctx),
			di.BlobStore(ctx),
			di.Chunker(),
			di.Transcriber(),
			di.TextGenerator(),
			di.Notifier(),
			worker.Prompts{
				CleanupTemplate: cfg.Prompts.CleanupTemplate,
				SummaryTemplate: cfg.Prompts.SummaryTemplate,
			},
			di.Logger(),
		)
	}
	return di.worker
}

func (di *dependencyInjector) Runner(ctx context.Context) *worker.Runner {
	if di.runner == nil {
		cfg := di.Config()
		di.runner = worker.NewRunner(
			di.JobQueue(ctx),
			di.Worker(ctx),
			di.JobStore(ctx),
			di.BlobStore(ctx),
			cfg.MaxConcurrentJobs,
			cfg.Retention,
			cfg.CleanupInterval,
		)
	}
	return di.runner
}

func (di *dependencyInjector) Usecase(ctx context.Context) transport.Usecase {
	if di.usecase == nil {
		cfg := di.Config()
		di.usecase = usecase.New(
			cfg.MaxBatchFiles,
			cfg.Retention,
			cfg.Media.MaxSegmentMb<<20,
			di.JobStore(ctx),
			di.BlobStore(ctx),
			di.JobQueue(ctx),
		)
	}

	return di.usecase
}

func (di *dependencyInjector) Handler(ctx context.Context) transport.Handler {
	if di.handler == nil {
		di.handler = transport.NewHandler(di.Config().MaxUploadBytesMb, di.Usecase(ctx))
	}

	return di.handler
}

func (di *dependencyInjector) Router(ctx context.Context) Router {
	if di.router == nil {
		di.router = transport.NewRouter(di.Handler(ctx))
	}

	return di.router
}
