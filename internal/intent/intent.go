// Package intent records the control plane's decisions: every attempted
// state change is logged with its outcome, both as a structured log line
// and as an append-only database row.
package intent

import (
	"encoding/json"

	"unideploy/internal/logging"
	"unideploy/pkg/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Logger appends intent records.
type Logger struct {
	db *gorm.DB
}

// NewLogger creates an intent logger over the given store.
func NewLogger(db *gorm.DB) *Logger {
	return &Logger{db: db}
}

// Log records one decision. The database write is best-effort; the zap
// line is always emitted so the audit trail survives store outages.
func (l *Logger) Log(projectID, userID uint, intentName, result, reason string, meta map[string]interface{}) {
	var metaJSON string
	if meta != nil {
		if b, err := json.Marshal(meta); err == nil {
			metaJSON = string(b)
		}
	}

	logging.L().Info("intent",
		zap.Uint("project_id", projectID),
		zap.Uint("user_id", userID),
		zap.String("intent", intentName),
		zap.String("result", result),
		zap.String("reason", reason),
		zap.String("meta", metaJSON),
	)

	if l.db == nil {
		return
	}
	row := models.IntentLog{
		ProjectID: projectID,
		UserID:    userID,
		Intent:    intentName,
		Result:    result,
		Reason:    reason,
		Meta:      metaJSON,
	}
	if err := l.db.Create(&row).Error; err != nil {
		logging.S().Warnw("intent log persist failed", "error", err)
	}
}

// Success records a successful intent.
func (l *Logger) Success(projectID, userID uint, intentName string) {
	l.Log(projectID, userID, intentName, models.IntentSuccess, "", nil)
}

// Rejected records a guard rejection with its reason.
func (l *Logger) Rejected(projectID, userID uint, intentName, reason string) {
	l.Log(projectID, userID, intentName, models.IntentRejected, reason, nil)
}

// Failed records an execution failure with its reason.
func (l *Logger) Failed(projectID, userID uint, intentName, reason string) {
	l.Log(projectID, userID, intentName, models.IntentFailed, reason, nil)
}
