package core

import (
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

type (
	Config struct {
		Env          string `validate:"required,oneof=DEV TEST QA PROD"`
		Debug        bool
		TestMode     bool
		AppName      string `validate:"required"`
		Build        string
		RollbarToken string
		Server       ServerConfig
		Database     DatabaseConfig
		Attendance   AttendanceConfig
	}

	ServerConfig struct {
		Host            string
		Address         string `validate:"required"`
		DebugHost       string
		ShutdownTimeout time.Duration `validate:"gt=0"`
		DisableReqLogs  bool
	}

	DatabaseConfig struct {
		Engine        string `validate:"required"`
		Host          string `validate:"required"`
		Port          int    `validate:"gt=0"`
		Name          string `validate:"required"`
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}

	// AttendanceConfig holds the default reconciliation policy.
	// Module settings override Threshold per module.
	AttendanceConfig struct {
		Threshold             float64        `validate:"gt=0,lte=1"`
		ConfirmationThreshold int            `validate:"gt=0"`
		PreWindow             time.Duration  `validate:"gte=0"`
		DefaultDuration       time.Duration  `validate:"gt=0"`
		Timezone              string         `validate:"required"`
		ExceptionHours        []int          `validate:"dive,gte=0,lte=23"`
		ExceptionPostWindow   time.Duration  `validate:"gte=0"`
		Location              *time.Location `validate:"-"`
	}
)

// Address returns the "host:port" of the database server.
func (c DatabaseConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// NewConfig reads the configuration of the current environment.
// Values come from defaults, then `config/.env.<env>` (if any), then the environment.
func NewConfig() (*Config, error) {
	v := viper.New()

	// defaults
	v.SetTypeByDefaultValue(true)
	v.SetDefault("debug", true)
	v.SetDefault("appName", "Rollcall")
	v.SetDefault("build", "dev")
	v.SetDefault("serverHost", "localhost")
	v.SetDefault("serverAddress", ":8000")
	v.SetDefault("serverDebugHost", "localhost:4000")
	v.SetDefault("serverShutdownTimeout", 5*time.Second)
	v.SetDefault("serverDisableReqLogs", false)
	v.SetDefault("dbEngine", "postgres")
	v.SetDefault("dbHost", "localhost")
	v.SetDefault("dbPort", 5432)
	v.SetDefault("dbName", "rollcall")
	v.SetDefault("dbUser", "rollcall")
	v.SetDefault("dbPassword", "")
	v.SetDefault("dbAdminUser", "")
	v.SetDefault("dbAdminPassword", "")
	v.SetDefault("dbDisableTLS", true)
	v.SetDefault("rollbarToken", "")
	v.SetDefault("attendanceThreshold", 0.75)
	v.SetDefault("transferConfirmationThreshold", 2)
	v.SetDefault("preWindow", 15*time.Minute)
	v.SetDefault("defaultSessionDuration", 120*time.Minute)
	v.SetDefault("timezone", "UTC")
	v.SetDefault("exceptionHours", "")
	v.SetDefault("exceptionPostWindow", time.Duration(0))

	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, QA, PROD
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		v.SetDefault("testMode", true)
	case "QA", "PROD":
		v.SetDefault("debug", false)
	}
	v.SetEnvPrefix(env)

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join("config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			return nil, errors.Wrapf(err, "loading %s", dotEnvPath)
		}
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "checking %s", dotEnvPath)
	}
	v.AutomaticEnv()

	conf := &Config{
		Env:          env,
		Debug:        v.GetBool("debug"),
		TestMode:     v.GetBool("testMode"),
		AppName:      v.GetString("appName"),
		Build:        v.GetString("build"),
		RollbarToken: v.GetString("rollbarToken"),
		Server: ServerConfig{
			Host:            v.GetString("serverHost"),
			Address:         v.GetString("serverAddress"),
			DebugHost:       v.GetString("serverDebugHost"),
			ShutdownTimeout: v.GetDuration("serverShutdownTimeout"),
			DisableReqLogs:  v.GetBool("serverDisableReqLogs"),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("dbEngine"),
			Host:          v.GetString("dbHost"),
			Port:          v.GetInt("dbPort"),
			Name:          v.GetString("dbName"),
			User:          v.GetString("dbUser"),
			Password:      v.GetString("dbPassword"),
			AdminUser:     v.GetString("dbAdminUser"),
			AdminPassword: v.GetString("dbAdminPassword"),
			DisableTLS:    v.GetBool("dbDisableTLS"),
		},
		Attendance: AttendanceConfig{
			Threshold:             v.GetFloat64("attendanceThreshold"),
			ConfirmationThreshold: v.GetInt("transferConfirmationThreshold"),
			PreWindow:             v.GetDuration("preWindow"),
			DefaultDuration:       v.GetDuration("defaultSessionDuration"),
			Timezone:              v.GetString("timezone"),
			ExceptionPostWindow:   v.GetDuration("exceptionPostWindow"),
		},
	}

	hours, err := parseHours(v.GetString("exceptionHours"))
	if err != nil {
		return nil, NewValidationError(err, FieldError{Field: "exceptionHours", Error: err.Error()})
	}
	conf.Attendance.ExceptionHours = hours

	loc, err := time.LoadLocation(conf.Attendance.Timezone)
	if err != nil {
		return nil, NewValidationError(err, FieldError{Field: "timezone", Error: err.Error()})
	}
	conf.Attendance.Location = loc

	if err := NewValidator().Struct(conf); err != nil {
		return nil, errors.Wrap(err, "validating config")
	}
	return conf, nil
}

// parseHours parses a comma separated list of hours, eg. "12,13,15".
func parseHours(s string) ([]int, error) {
	s = CleanString(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	hours := make([]int, 0, len(parts))
	for _, p := range parts {
		h, err := strconv.Atoi(CleanString(p))
		if err != nil {
			return nil, errors.Errorf("invalid hour %q", p)
		}
		hours = append(hours, h)
	}
	return hours, nil
}
