// Package env reads process configuration from environment variables,
// optionally seeded from a .env file.
package env

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

const (
	_debug          = "DEBUG"            // print debug messages
	_verbose        = "VERBOSE"          // print caller information
	_disableLogTime = "DISABLE_LOG_TIME" // disable timestamp in logs
	_envFile        = "./.env"           // path to environment variables file
)

var (
	Debug         = false
	Verbose       = false
	LogTimestamps = true
)

// Eval returns the boolean value of the env variable with the given key
func Eval(key string) bool {
	return os.Getenv(key) == "1" || os.Getenv(key) == "true" || os.Getenv(key) == "TRUE"
}

// String returns the value of key or def when unset or empty
func String(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Int returns the integer value of key or def when unset or malformed
func Int(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		logrus.Warnf("env: ignoring %s=%q: %s", key, v, err)
		return def
	}
	return i
}

// Duration returns the duration value of key or def when unset or malformed
func Duration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		logrus.Warnf("env: ignoring %s=%q: %s", key, v, err)
		return def
	}
	return d
}

// Load sets env variables from the .env file (if any) and evaluates
// the logging switches. Variables already set in the environment win.
func Load() {
	err := godotenv.Load(_envFile)
	if err == nil {
		logrus.Infoln("env: loaded environment file:", _envFile)
	}

	Debug = Eval(_debug)
	Verbose = Eval(_verbose)
	LogTimestamps = !Eval(_disableLogTime)

	SetupLogging(logrus.StandardLogger())
	logrus.Debugln(_debug, Debug)
	logrus.Debugln(_verbose, Verbose)
	logrus.Debugln(_disableLogTime, !LogTimestamps)
}

// SetupLogging applies the logging switches to l
func SetupLogging(l *logrus.Logger) {
	if Debug {
		l.SetLevel(logrus.DebugLevel)
	}
	l.SetReportCaller(Verbose)
	if f, ok := l.Formatter.(*logrus.TextFormatter); ok {
		f.DisableTimestamp = !LogTimestamps
		f.FullTimestamp = true
	}
}
