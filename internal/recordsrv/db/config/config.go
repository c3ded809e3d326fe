package config

import (
	"fmt"
	"os"
	"strconv"
)

type dbconncfg struct {
	host     string
	port     int
	dbname   string
	user     string
	password string
	sslmode  string
}

var recordDbConn *dbconncfg

func init() {
	recordDbConn = &dbconncfg{
		host:     envOr("RECORDDB_HOST", "localhost"),
		port:     envIntOr("RECORDDB_PORT", 5432),
		user:     envOr("RECORDDB_USER", "record_api"),
		password: envOr("RECORDDB_PASSWORD", "record_api"),
		dbname:   envOr("RECORDDB_NAME", "recorddb"),
		sslmode:  envOr("RECORDDB_SSLMODE", "disable"),
	}
}

// RecordDbDsn returns the DSN for the record platform database.
func RecordDbDsn() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		recordDbConn.host, recordDbConn.port, recordDbConn.user, recordDbConn.password, recordDbConn.dbname, recordDbConn.sslmode)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
