// Command migrate applies the control-plane schema out of band, so
// deployments can run migrations before rolling the server.
//
// Usage:
//
//	go run ./cmd/migrate          # apply schema migrations
//	go run ./cmd/migrate status   # print table row counts
package main

import (
	"os"

	"unideploy/internal/db"
	"unideploy/internal/logging"
	"unideploy/pkg/models"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	logging.Init()
	defer logging.Sync()

	dbCfg := db.ParseDatabaseURL(os.Getenv("DATABASE_URL"))
	if dbCfg == nil {
		if path := os.Getenv("SQLITE_PATH"); path != "" {
			dbCfg = &db.Config{SQLitePath: path}
		} else {
			dbCfg = db.DefaultConfig()
		}
	}

	database, err := db.New(dbCfg)
	if err != nil {
		logging.S().Fatalw("database connection failed", "error", err)
	}
	defer database.Close()

	command := "up"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	switch command {
	case "up":
		// db.New already ran AutoMigrate; rerunning is harmless and
		// makes the command idempotent.
		if err := database.Migrate(); err != nil {
			logging.S().Fatalw("migration failed", "error", err)
		}
		logging.S().Info("schema up to date")
	case "status":
		var users, projects, deployments, intents int64
		database.DB.Model(&models.User{}).Count(&users)
		database.DB.Model(&models.Project{}).Count(&projects)
		database.DB.Model(&models.Deployment{}).Count(&deployments)
		database.DB.Model(&models.IntentLog{}).Count(&intents)
		logging.S().Infow("schema status",
			"users", users,
			"projects", projects,
			"deployments", deployments,
			"intent_logs", intents,
		)
	default:
		logging.S().Fatalw("unknown command", "command", command)
	}
}
