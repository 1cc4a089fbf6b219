package clickhouse

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/sirupsen/logrus"
)

type Database struct {
	conn driver.Conn
	log  *logrus.Logger
}

type Config struct {
	Hosts    []string
	Database string
	Username string
	Password string
	Debug    bool
}

func NewDatabase(ctx context.Context, cfg Config, log *logrus.Logger) (*Database, error) {
	log.WithFields(logrus.Fields{
		"hosts":    cfg.Hosts,
		"database": cfg.Database,
	}).Info("Connessione a ClickHouse")

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: cfg.Hosts,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialContext: func(ctx context.Context, addr string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "tcp", addr)
		},
		Debug: cfg.Debug,
		Debugf: func(format string, v ...any) {
			log.Debugf(format, v...)
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		DialTimeout:          time.Second * 30,
		MaxOpenConns:         5,
		MaxIdleConns:         5,
		ConnMaxLifetime:      time.Duration(10) * time.Minute,
		ConnOpenStrategy:     clickhouse.ConnOpenInOrder,
		BlockBufferSize:      10,
		MaxCompressionBuffer: 10240,
		ClientInfo: clickhouse.ClientInfo{
			Products: []struct {
				Name    string
				Version string
			}{
				{Name: "ledgerindexer", Version: "0.1"},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("errore nella connessione a ClickHouse: %w", err)
	}

	// Test della connessione
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("errore nel ping a ClickHouse: %w", err)
	}

	db := &Database{
		conn: conn,
		log:  log,
	}
	if err := db.ensureSchema(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// Close chiude la connessione al database
func (db *Database) Close(context.Context) error {
	return db.conn.Close()
}
