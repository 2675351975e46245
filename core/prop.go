package core

// misoconfig-section: Common Configuration
const (

	// misoconfig-prop: name of the application
	PropAppName = "app.name"

	// misoconfig-prop: whether production mode is turned on | true
	PropProdMode = "mode.production"
)

// misoconfig-section: Web Server Configuration
const (

	// misoconfig-prop: http server host | 127.0.0.1
	PropServerHost = "server.host"

	// misoconfig-prop: http server port | 8080
	PropServerPort = "server.port"

	// misoconfig-prop: health check url | /health
	PropHealthCheckUrl = "server.health-check-url"

	// misoconfig-prop: time wait (in second) before the server shutdown | 30
	PropServerGracefulShutdownTimeSec = "server.gracefulShutdownTimeSec"
)

// misoconfig-section: Tracing Configuration
const (

	// misoconfig-prop: propagation keys in trace (string slice) |
	PropTracingPropagationKeys = "tracing.propagation.keys"
)

// misoconfig-section: Logging Configuration
const (

	// misoconfig-prop: log level | info
	PropLoggingLevel = "logging.level"

	// misoconfig-prop: path to rolling log file |
	PropLoggingRollingFile = "logging.rolling.file"

	// misoconfig-prop: only append log to the rolling file | false
	PropLoggingRollingFileOnly = "logging.file.log-file-only"

	// misoconfig-prop: max age of log files in days | 0
	PropLoggingRollingFileMaxAge = "logging.file.max-age"

	// misoconfig-prop: max size of each log file (in mb) | 50
	PropLoggingRollingFileMaxSize = "logging.file.max-size"

	// misoconfig-prop: max number of backup log files | 10
	PropLoggingRollingFileMaxBackups = "logging.file.max-backups"

	// misoconfig-prop: rotate log file at every 00:00 | true
	PropLoggingRollingFileRotateDaily = "logging.file.rotate-daily"
)

func init() {
	SetDefProp(PropProdMode, true)
	SetDefProp(PropServerHost, "127.0.0.1")
	SetDefProp(PropServerPort, 8080)
	SetDefProp(PropHealthCheckUrl, "/health")
	SetDefProp(PropServerGracefulShutdownTimeSec, 30)
	SetDefProp(PropLoggingLevel, "info")
	SetDefProp(PropLoggingRollingFileOnly, false)
	SetDefProp(PropLoggingRollingFileMaxAge, 0)
	SetDefProp(PropLoggingRollingFileMaxSize, 50)
	SetDefProp(PropLoggingRollingFileMaxBackups, 10)
	SetDefProp(PropLoggingRollingFileRotateDaily, true)
}

// Check whether we are running in production mode
func IsProdMode() bool {
	return GetPropBool(PropProdMode)
}
