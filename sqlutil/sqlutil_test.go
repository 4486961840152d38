package sqlutil_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/matryer/is"
	"github.com/purposeinplay/go-artifact/sqlutil"
)

func TestConnectionConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		cfg         sqlutil.ConnectionConfig
		expectedErr error
	}{
		"PostgreSQL": {
			cfg: sqlutil.ConnectionConfig{
				Type: sqlutil.PostgreSQL, Host: "h", User: "u", Password: "p", Database: "d",
			},
		},
		"PostgreSQLMissingPassword": {
			cfg: sqlutil.ConnectionConfig{
				Type: sqlutil.PostgreSQL, Host: "h", User: "u", Database: "d",
			},
			expectedErr: sqlutil.ErrMissingParameter,
		},
		"MySQLMissingHost": {
			cfg: sqlutil.ConnectionConfig{
				Type: sqlutil.MySQL, User: "u", Password: "p", Database: "d",
			},
			expectedErr: sqlutil.ErrMissingParameter,
		},
		"SQLite": {
			cfg: sqlutil.ConnectionConfig{Type: sqlutil.SQLite, Database: "file.db"},
		},
		"SQLiteMissingDatabase": {
			cfg:         sqlutil.ConnectionConfig{Type: sqlutil.SQLite},
			expectedErr: sqlutil.ErrMissingParameter,
		},
		"Unsupported": {
			cfg:         sqlutil.ConnectionConfig{Type: "oracle", Database: "d"},
			expectedErr: sqlutil.ErrUnsupportedDBType,
		},
	}

	for name, test := range tests {
		test := test

		t.Run(name, func(t *testing.T) {
			t.Parallel()

			i := is.New(t)

			err := test.cfg.Validate()

			if test.expectedErr == nil {
				i.NoErr(err)
				return
			}

			i.True(errors.Is(err, test.expectedErr))
		})
	}
}

func TestConnectionConfig_DSN(t *testing.T) {
	t.Parallel()

	i := is.New(t)

	pg := sqlutil.ConnectionConfig{
		Type: sqlutil.PostgreSQL, Host: "db", User: "u", Password: "p", Database: "d",
	}
	i.Equal(pg.DSN(), "host=db user=u password=p dbname=d port=5432 sslmode=disable")
	i.Equal(pg.DriverName(), "pgx")

	my := sqlutil.ConnectionConfig{
		Type: sqlutil.MySQL, Host: "db", User: "u", Password: "p", Database: "d",
	}
	i.True(strings.HasPrefix(my.DSN(), "u:p@tcp(db:3306)/d?"))
	i.True(strings.Contains(my.DSN(), "parseTime=true"))
	i.Equal(my.DriverName(), "mysql")

	lite := sqlutil.ConnectionConfig{Type: sqlutil.SQLite, Database: "/tmp/x.db"}
	i.Equal(lite.DSN(), "/tmp/x.db")
	i.Equal(lite.DriverName(), "sqlite3")
}

func TestOpen_SQLite(t *testing.T) {
	t.Parallel()

	i := is.New(t)

	db, err := sqlutil.OpenWithRetry(context.Background(), sqlutil.ConnectionConfig{
		Type:     sqlutil.SQLite,
		Database: filepath.Join(t.TempDir(), "open.db"),
	}, 1, time.Millisecond)
	i.NoErr(err)

	t.Cleanup(func() { _ = db.Close() })

	var one int

	i.NoErr(db.QueryRow("SELECT 1").Scan(&one))
	i.Equal(one, 1)
}

func TestOpen_InvalidConfig(t *testing.T) {
	t.Parallel()

	i := is.New(t)

	_, err := sqlutil.Open(context.Background(), sqlutil.ConnectionConfig{Type: sqlutil.SQLite})
	i.True(errors.Is(err, sqlutil.ErrMissingParameter))
}
