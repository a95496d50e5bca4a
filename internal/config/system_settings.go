package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const DATABASE_TYPE = "STEPFLOW_DATABASE_TYPE"
const DATABASE_URL = "STEPFLOW_DATABASE_URL"
const DATABASE_SQLLITE_FILE_NAME = "STEPFLOW_DATABASE_SQLLITE_FILE_NAME"
const SERVER_WEB_PORT = "STEPFLOW_SERVER_WEB_PORT"
const HTTP_ADDR = "HTTP_ADDR" //full listen address, overrides SERVER_WEB_PORT when set
const SCHEDULER_TYPE = "STEPFLOW_SCHEDULER_TYPE"
const REDIS_ADDR = "STEPFLOW_REDIS_ADDR"
const REDIS_PREFIX = "STEPFLOW_REDIS_PREFIX"
const ENGINE_CHECK_DB_INTERVAL = "STEPFLOW_ENGINE_CHECK_DB_INTERVAL"
const ENGINE_STUCK_JOBS_INTERVAL = "STEPFLOW_ENGINE_STUCK_JOBS_INTERVAL"
const ENGINE_STUCK_JOBS_REPAIR_AFTER_MINUTES = "STEPFLOW_ENGINE_STUCK_JOBS_REPAIR_AFTER_MINUTES"
const ENGINE_BATCH_SIZE = "STEPFLOW_ENGINE_BATCH_SIZE"       //number of jobs to pull from the database at a time
const ENGINE_EXECUTOR_SIZE = "STEPFLOW_ENGINE_EXECUTOR_SIZE" //number of workers, ie how many instances advance in parallel
const ENGINE_COUNTER_LIMIT = "STEPFLOW_ENGINE_COUNTER_LIMIT" //default counter_limit seeded into new instances
const ENGINE_CONFLICT_RETRIES = "STEPFLOW_ENGINE_CONFLICT_RETRIES"
const ENGINE_JOB_MAX_RETRIES = "STEPFLOW_ENGINE_JOB_MAX_RETRIES"
const DEFINITIONS_DIR = "STEPFLOW_DEFINITIONS_DIR"
const EXECUTOR_NAME = "STEPFLOW_EXECUTOR_NAME"
const LOG_LEVEL = "STEPFLOW_LOG_LEVEL"

const DATABASE_TYPE_POSTGRES = "POSTGRES"
const DATABASE_TYPE_MYSQL = "MYSQL"
const DATABASE_TYPE_SQLLITE = "SQLLITE"

const SCHEDULER_TYPE_DATABASE = "DATABASE"
const SCHEDULER_TYPE_REDIS = "REDIS"

var defaults = map[string]string{
	DATABASE_TYPE:                          DATABASE_TYPE_SQLLITE,
	ENGINE_CHECK_DB_INTERVAL:               "1s",
	ENGINE_STUCK_JOBS_INTERVAL:             "60s",
	ENGINE_STUCK_JOBS_REPAIR_AFTER_MINUTES: "5",
	ENGINE_BATCH_SIZE:                      "10",
	ENGINE_EXECUTOR_SIZE:                   "5",
	ENGINE_COUNTER_LIMIT:                   "200",
	ENGINE_CONFLICT_RETRIES:                "5",
	ENGINE_JOB_MAX_RETRIES:                 "10",
	SERVER_WEB_PORT:                        "8080",
	SCHEDULER_TYPE:                         SCHEDULER_TYPE_DATABASE,
	REDIS_ADDR:                             "localhost:6379",
	REDIS_PREFIX:                           "stepflow:",
	DATABASE_SQLLITE_FILE_NAME:             "./stepflow.db",
	LOG_LEVEL:                              "INFO",
}

func GetSystemSettingInteger(settingKey string) int {
	val := GetSystemSettingString(settingKey)
	if val != "" {
		intValue, err := strconv.Atoi(val)
		if err != nil {
			slog.Warn("Invalid integer setting, using 0", "key", settingKey, "value", val)
			return 0
		}
		return intValue
	}
	return 0
}

// GetSystemSettingDuration parses Go duration strings such as "3s" or "1m30s".
func GetSystemSettingDuration(settingKey string) time.Duration {
	val := GetSystemSettingString(settingKey)
	if val == "" {
		return 0
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		slog.Warn("Invalid duration setting, using 0", "key", settingKey, "value", val)
		return 0
	}
	return d
}

func GetSystemSettingString(settingKey string) string {
	val := os.Getenv(settingKey)
	if val != "" {
		return val
	}
	return defaults[settingKey]
}

// GetListenAddr is HTTP_ADDR when set, otherwise ":" + STEPFLOW_SERVER_WEB_PORT.
func GetListenAddr() string {
	if addr := GetSystemSettingString(HTTP_ADDR); addr != "" {
		return addr
	}
	return ":" + GetSystemSettingString(SERVER_WEB_PORT)
}

// GetLogLevel maps STEPFLOW_LOG_LEVEL onto a slog level, defaulting to info.
func GetLogLevel() slog.Level {
	switch strings.ToUpper(GetSystemSettingString(LOG_LEVEL)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
