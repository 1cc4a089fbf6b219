package relational

import (
	"context"
	"fmt"
	"time"

	"ledgerindexer/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Database struct {
	db  *gorm.DB
	log *logrus.Logger
}

type Config struct {
	Driver   string
	DSN      string
	Host     string
	Port     int
	Database string
	Username string
	Password string
	Debug    bool
}

func (cfg Config) dialector() (gorm.Dialector, error) {
	dsn := cfg.DSN
	switch cfg.Driver {
	case "", "mysql":
		if dsn == "" {
			dsn = fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
				cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database)
		}
		return mysql.Open(dsn), nil
	case "postgres":
		if dsn == "" {
			dsn = fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable TimeZone=UTC",
				cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.Database)
		}
		return postgres.Open(dsn), nil
	case "sqlite":
		return sqlite.Open(dsn), nil
	default:
		return nil, fmt.Errorf("driver %q non supportato", cfg.Driver)
	}
}

// NewDatabase apre la connessione allo store relazionale
func NewDatabase(cfg Config, log *logrus.Logger) (*Database, error) {
	log.WithFields(logrus.Fields{
		"driver":   cfg.Driver,
		"host":     cfg.Host,
		"database": cfg.Database,
	}).Info("Connessione al database")

	dialector, err := cfg.dialector()
	if err != nil {
		return nil, err
	}

	logLevel := logger.Silent
	if cfg.Debug {
		logLevel = logger.Info
	}
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("errore nella connessione al database: %w", err)
	}

	// Configura il pool di connessioni
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("errore nell'accesso al database SQL: %w", err)
	}
	if cfg.Driver == "sqlite" {
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetMaxOpenConns(20)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	return &Database{
		db:  db,
		log: log,
	}, nil
}

// Close chiude la connessione al database
func (db *Database) Close() error {
	sqlDB, err := db.db.DB()
	if err != nil {
		return fmt.Errorf("errore nell'accesso al database SQL: %w", err)
	}
	return sqlDB.Close()
}

// Ping verifica che il database risponda
func (db *Database) Ping(ctx context.Context) error {
	sqlDB, err := db.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// GetDB restituisce l'istanza di GORM DB
func (db *Database) GetDB() *gorm.DB {
	return db.db
}

// Migrate crea le tabelle del core; in produzione lo schema arriva dalle migrazioni.
func (db *Database) Migrate() error {
	db.log.Info("Starting database tables...")

	if err := db.db.AutoMigrate(
		&models.IndexerState{},
		&models.IndexedTransaction{},
		&models.MarketplaceActivity{},
		&models.ReconciliationRun{},
		&models.OwnershipDiscrepancy{},
		&models.ReconciliationLog{},
		&models.FailedMirrorWrite{},
	); err != nil {
		return fmt.Errorf("errore durante la migrazione: %w", err)
	}
	return nil
}
