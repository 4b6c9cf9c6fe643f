// Package wire provides dependency injection for the kbflow application.
// It creates singleton services with lazy initialization.
package wire

import (
	"database/sql"
	"log"
	"log/slog"
	"os"
	"sync"

	"github.com/example/kbflow/internal/adapters/llm"
	"github.com/example/kbflow/internal/adapters/servicenow"
	"github.com/example/kbflow/internal/adapters/slack"
	"github.com/example/kbflow/internal/adapters/sqlite"
	"github.com/example/kbflow/internal/app"
	"github.com/example/kbflow/internal/config"
	"github.com/example/kbflow/internal/db"
	"github.com/example/kbflow/internal/ports/primary"
)

var (
	cfg           *config.Config
	database      *sql.DB
	logger        *slog.Logger
	conversations *sqlite.ConversationRepository
	stateService  *app.WorkflowStateServiceImpl
	orchService   primary.WorkflowOrchestrationService
	once          sync.Once
)

// Config returns the loaded configuration.
func Config() *config.Config {
	once.Do(initServices)
	return cfg
}

// Logger returns the process logger.
func Logger() *slog.Logger {
	once.Do(initServices)
	return logger
}

// StateService returns the singleton WorkflowStateService instance.
// The concrete type is exposed so the serve command can drive the
// sweep lifecycle (StartSweep/Close).
func StateService() *app.WorkflowStateServiceImpl {
	once.Do(initServices)
	return stateService
}

// OrchestrationService returns the singleton orchestration service.
func OrchestrationService() primary.WorkflowOrchestrationService {
	once.Do(initServices)
	return orchService
}

// Conversations returns the conversation repository, used by the
// webhook layer to record thread dialogue.
func Conversations() *sqlite.ConversationRepository {
	once.Do(initServices)
	return conversations
}

// initServices initializes all services and their dependencies.
// This is called once via sync.Once.
func initServices() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, nil))

	dir, err := config.Dir()
	if err != nil {
		log.Fatalf("failed to resolve config dir: %v", err)
	}
	cfg, err = config.LoadConfig(dir)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	database, err = db.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("failed to initialize database: %v", err)
	}

	// Repository adapters (secondary ports)
	workflowRepo := sqlite.NewWorkflowRepository(database)
	conversations = sqlite.NewConversationRepository(database)

	// Collaborator adapters
	cases := servicenow.NewClient(cfg.ServiceNowURL, cfg.ServiceNowUsername, cfg.ServiceNowPassword)
	messenger := slack.NewClient(cfg.SlackBotToken)
	brain := llm.NewClient(cfg.LLMURL, cfg.LLMKey, cfg.LLMModel)

	// Services (primary ports implementation)
	stateService = app.NewWorkflowStateService(workflowRepo, logger, cfg.GatheringTimeout(), cfg.SweepInterval())
	orchService = app.NewWorkflowOrchestrationService(app.OrchestrationDeps{
		State:                 stateService,
		Convs:                 conversations,
		Cases:                 cases,
		Scorer:                brain,
		Questions:             brain,
		Generator:             brain,
		Approvals:             messenger,
		Poster:                messenger,
		Logger:                logger,
		GatheringTimeout:      cfg.GatheringTimeout(),
		PostResolutionSummary: cfg.PostResolutionSummary,
	})
}
