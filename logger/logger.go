package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	AppLogger   *logrus.Logger
	ProxyLogger *logrus.Logger
	ErrorLogger *logrus.Logger

	mu           sync.Mutex
	logLevel     string
	appLogFile   *os.File
	proxyLogFile *os.File
	initialized  bool
)

func init() {
	// Usable before InitGlobalLoggers runs (tests, early CLI errors).
	AppLogger = newLogger(io.Discard, "app")
	ProxyLogger = newLogger(io.Discard, "proxy")
	ErrorLogger = newLogger(os.Stderr, "app")
	logLevel = "INFO"
}

func newLogger(w io.Writer, stream string) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, DisableColors: true})
	l.AddHook(streamHook(stream))
	return l
}

// streamHook tags every entry with the stream it was written to.
type streamHook string

func (h streamHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h streamHook) Fire(e *logrus.Entry) error {
	if _, ok := e.Data["stream"]; !ok {
		e.Data["stream"] = string(h)
	}
	return nil
}

func parseLevel(level string) logrus.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return logrus.DebugLevel
	case "WARN", "WARNING":
		return logrus.WarnLevel
	case "ERROR":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

func openLogFile(path string) (*os.File, io.Writer, string) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		ErrorLogger.Errorf("Failed to create log directory %s: %v. Logs will be discarded.", filepath.Dir(path), err)
		return nil, io.Discard, "(discarded)"
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
	if err != nil {
		ErrorLogger.Errorf("Failed to open log file %s: %v. Logs will be discarded.", path, err)
		return nil, io.Discard, "(discarded)"
	}
	return f, f, path
}

func InitGlobalLoggers(appLogPath, proxyLogPath, level string) error {
	mu.Lock()
	defer mu.Unlock()

	if initialized && appLogFile != nil && proxyLogFile != nil && strings.ToUpper(level) == logLevel {
		return nil
	}
	closeFilesLocked()

	logLevel = strings.ToUpper(level)
	if logLevel == "" {
		logLevel = "INFO"
	}
	lvl := parseLevel(logLevel)

	ErrorLogger = newLogger(os.Stderr, "app")
	ErrorLogger.SetLevel(logrus.ErrorLevel)

	var appWriter, proxyWriter io.Writer
	var appPath, proxyPath string
	appLogFile, appWriter, appPath = openLogFile(appLogPath)
	proxyLogFile, proxyWriter, proxyPath = openLogFile(proxyLogPath)

	AppLogger = newLogger(appWriter, "app")
	AppLogger.SetLevel(lvl)
	ProxyLogger = newLogger(proxyWriter, "proxy")
	ProxyLogger.SetLevel(lvl)

	if !initialized {
		AppLogger.Infof("App logger initialized. Log level: %s. Output file: %s", logLevel, appPath)
		ProxyLogger.Infof("Proxy logger initialized. Log level: %s. Output file: %s", logLevel, proxyPath)
	}
	initialized = true
	return nil
}

// WithComponent returns an entry for long-lived workers that tag their own lines.
func WithComponent(name string) *logrus.Entry {
	return AppLogger.WithField("component", name)
}

func Info(format string, v ...interface{}) {
	AppLogger.Infof(format, v...)
}

func Debug(format string, v ...interface{}) {
	AppLogger.Debugf(format, v...)
}

func Warn(format string, v ...interface{}) {
	AppLogger.Warnf(format, v...)
}

func Error(format string, v ...interface{}) {
	message := fmt.Sprintf(format, v...)
	ErrorLogger.Error(message)
	if appLogFile != nil {
		AppLogger.Error(message)
	}
}

func Fatal(format string, v ...interface{}) {
	ErrorLogger.Fatalf(format, v...)
}

func ProxyInfo(format string, v ...interface{}) {
	ProxyLogger.Infof(format, v...)
}

func ProxyDebug(format string, v ...interface{}) {
	ProxyLogger.Debugf(format, v...)
}

func ProxyError(format string, v ...interface{}) {
	message := fmt.Sprintf(format, v...)
	ErrorLogger.Error(message)
	if proxyLogFile != nil {
		ProxyLogger.Error(message)
	}
}

func closeFilesLocked() {
	if appLogFile != nil {
		appLogFile.Close()
		appLogFile = nil
	}
	if proxyLogFile != nil {
		proxyLogFile.Close()
		proxyLogFile = nil
	}
}

func CloseLogFiles() {
	mu.Lock()
	defer mu.Unlock()
	if appLogFile != nil {
		AppLogger.Info("Closing app log file.")
	}
	if proxyLogFile != nil {
		ProxyLogger.Info("Closing proxy log file.")
	}
	closeFilesLocked()
	AppLogger.SetOutput(io.Discard)
	ProxyLogger.SetOutput(io.Discard)
	initialized = false
}
