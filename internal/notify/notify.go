// Package notify is the user-facing notification sink for kernel
// side-channel messages.
package notify

import (
	"go.uber.org/zap"
)

// Notifier receives user-visible notifications. Implementations must not
// block; delivery happens on the connection manager's dispatch goroutine.
type Notifier interface {
	Alert(title, description, variant string)
	Banner(title, description, variant string)
	MissingPackages(packages []string, isolatedEnv bool)
	InstallingPackages(packages map[string]string)
	StartupLog(content, status string)
	Toast(message string, err error)
}

// LogNotifier writes notifications to a structured log. It is the default
// sink for headless use.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Alert(title, description, variant string) {
	n.logger.Warn("alert",
		zap.String("title", title),
		zap.String("description", description),
		zap.String("variant", variant))
}

func (n *LogNotifier) Banner(title, description, variant string) {
	n.logger.Info("banner",
		zap.String("title", title),
		zap.String("description", description),
		zap.String("variant", variant))
}

func (n *LogNotifier) MissingPackages(packages []string, isolatedEnv bool) {
	n.logger.Warn("missing packages",
		zap.Strings("packages", packages),
		zap.Bool("isolated_environment", isolatedEnv))
}

func (n *LogNotifier) InstallingPackages(packages map[string]string) {
	fields := make([]zap.Field, 0, len(packages))
	for pkg, status := range packages {
		fields = append(fields, zap.String(pkg, status))
	}
	n.logger.Info("installing packages", fields...)
}

func (n *LogNotifier) StartupLog(content, status string) {
	n.logger.Info("kernel startup",
		zap.String("status", status),
		zap.String("content", content))
}

func (n *LogNotifier) Toast(message string, err error) {
	if err != nil {
		n.logger.Error(message, zap.Error(err))
		return
	}
	n.logger.Info(message)
}
