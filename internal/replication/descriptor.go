// Package replication writes accepted rows to every configured database
// replica. Replicas are independent: there is no shared transaction and one
// replica's failure never prevents an attempt on another.
package replication

import (
	"fmt"
	"net/url"
	"strings"
)

// Driver identifies a replica database driver.
type Driver string

const (
	DriverSQLServer Driver = "sqlserver" // github.com/microsoft/go-mssqldb
	DriverPGX       Driver = "pgx"       // github.com/jackc/pgx/v5/stdlib
	DriverPostgres  Driver = "postgres"  // github.com/lib/pq
	DriverSQLite    Driver = "sqlite"    // modernc.org/sqlite
)

// Auth modes for server-based replicas.
const (
	AuthIntegrated = "integrated"
	AuthPassword   = "password"
)

// Descriptor describes one replica. DSN wins when set; otherwise the DSN is
// derived from Server, Database, and AuthMode.
type Descriptor struct {
	Name     string `mapstructure:"name" json:"name"`
	Driver   Driver `mapstructure:"driver" json:"driver"`
	DSN      string `mapstructure:"dsn" json:"-"`
	Server   string `mapstructure:"server" json:"server,omitempty"`
	Database string `mapstructure:"database" json:"database,omitempty"`
	AuthMode string `mapstructure:"auth_mode" json:"auth_mode,omitempty"`
	User     string `mapstructure:"user" json:"user,omitempty"`
	Password string `mapstructure:"password" json:"-"`
}

// Label returns Name, falling back to driver and server.
func (d Descriptor) Label() string {
	if d.Name != "" {
		return d.Name
	}
	if d.Server != "" {
		return string(d.Driver) + "://" + d.Server
	}
	return string(d.Driver)
}

// Validate checks the descriptor names a supported driver and a destination.
func (d Descriptor) Validate() error {
	switch d.Driver {
	case DriverSQLServer, DriverPGX, DriverPostgres, DriverSQLite:
	case "":
		return fmt.Errorf("target %s: driver required", d.Label())
	default:
		return fmt.Errorf("target %s: unsupported driver %q", d.Label(), d.Driver)
	}
	if d.DSN == "" && d.Database == "" {
		return fmt.Errorf("target %s: dsn or database required", d.Label())
	}
	if d.DSN == "" && d.Driver != DriverSQLite && d.Server == "" {
		return fmt.Errorf("target %s: server required", d.Label())
	}
	mode := strings.ToLower(d.AuthMode)
	if mode != "" && mode != AuthIntegrated && mode != AuthPassword {
		return fmt.Errorf("target %s: unknown auth mode %q", d.Label(), d.AuthMode)
	}
	return nil
}

// ConnString returns the driver-specific data source name.
func (d Descriptor) ConnString() string {
	if d.DSN != "" {
		return d.DSN
	}
	switch d.Driver {
	case DriverSQLite:
		return d.Database
	case DriverSQLServer:
		u := &url.URL{Scheme: "sqlserver", Host: d.Server}
		if d.usesPassword() {
			u.User = url.UserPassword(d.User, d.Password)
		}
		q := url.Values{}
		q.Set("database", d.Database)
		u.RawQuery = q.Encode()
		return u.String()
	default:
		u := &url.URL{Scheme: "postgres", Host: d.Server, Path: "/" + d.Database}
		if d.usesPassword() {
			u.User = url.UserPassword(d.User, d.Password)
		}
		q := url.Values{}
		q.Set("sslmode", "disable")
		u.RawQuery = q.Encode()
		return u.String()
	}
}

func (d Descriptor) usesPassword() bool {
	return strings.EqualFold(d.AuthMode, AuthPassword) || (d.AuthMode == "" && d.User != "")
}
