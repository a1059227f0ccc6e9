package cli

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"assessment-service/internal/app"
	"assessment-service/internal/config"
	"assessment-service/internal/domain"
	"assessment-service/internal/infra/memory"
	pgstore "assessment-service/internal/infra/postgres"
	redisrepo "assessment-service/internal/infra/redis"
	"assessment-service/internal/rbac"
	transport "assessment-service/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the assessment server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
	}

	var loader memory.QuestionLoader = memory.NewStaticQuestionLoader(sampleQuestions())
	if pool != nil {
		loader = pgstore.NewQuestionLoader(pool)
	}

	questionTTL := config.Duration(cfg.Questions.TTL, 10*time.Minute)
	var questionRepo app.QuestionRepository
	if redisClient != nil {
		questionRepo = redisrepo.NewQuestionRepository(redisClient, loader, questionTTL)
	} else {
		questionRepo = memory.NewQuestionRepository(loader, questionTTL)
	}

	var definitions app.DefinitionStore
	var attempts app.AttemptStore
	if pool != nil {
		definitions = pgstore.NewDefinitionStore(pool)
		attempts = pgstore.NewAttemptStore(pool)
	} else {
		memDefs := memory.NewDefinitionStore()
		seedDefinitions(ctx, memDefs)
		definitions = memDefs
		attempts = memory.NewAttemptStore()
	}

	checker := rbac.NewChecker(nil)
	grace := config.Duration(cfg.Engine.SubmitGrace, time.Minute)
	service := app.NewAssessmentService(definitions, attempts, questionRepo, checker,
		app.WithSubmitGrace(grace))

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	sweeper := app.NewSweeper(definitions, config.Duration(cfg.Engine.SweepInterval, 5*time.Minute))
	go sweeper.Run(sweepCtx)

	handler := transport.NewHandler(service, checker)
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	handler.Register(mux)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting assessment service on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleQuestions provides a minimal question bank for running without
// Postgres; swap the loader for the Postgres one in production.
func sampleQuestions() []domain.Question {
	return []domain.Question{
		{
			ID:     "q-arith",
			Prompt: "What is 2 + 2?",
			Type:   domain.SingleChoice,
			Choices: []domain.Choice{
				{ID: "c1", Text: "3"},
				{ID: "c2", Text: "4"},
				{ID: "c3", Text: "5"},
			},
			CorrectAnswer: "c2",
			Points:        5,
			Explanation:   "Basic addition.",
		},
		{
			ID:            "q-earth",
			Prompt:        "The Earth is flat.",
			Type:          domain.TrueFalse,
			CorrectAnswer: false,
			Points:        5,
		},
	}
}

func seedDefinitions(ctx context.Context, store *memory.DefinitionStore) {
	now := time.Now()
	err := store.Create(ctx, domain.AssessmentDefinition{
		ID:               "sample-assessment",
		Title:            "Sample Assessment",
		QuestionRefs:     []string{"q-arith", "q-earth"},
		AllowedRoles:     []string{"student"},
		AttemptsAllowed:  3,
		TimeLimitMinutes: 10,
		ShuffleQuestions: true,
		RevealPolicy:     domain.RevealImmediate,
		PassingScore:     70,
		Published:        true,
		Active:           true,
		CreatedAt:        now,
		UpdatedAt:        now,
	})
	if err != nil {
		log.Printf("seed definitions: %v", err)
	}
}
