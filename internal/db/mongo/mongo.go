package mongo

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"ledgerindexer/internal/mirror"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsoncodec"
	"go.mongodb.org/mongo-driver/bson/bsonrw"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	transactionsCollection   = "transactions"
	walletActivityCollection = "wallet_activity"
)

type Config struct {
	URI      string
	Database string
}

// Database is the MongoDB mirror backend.
type Database struct {
	client *mongo.Client
	db     *mongo.Database
	log    *logrus.Logger
}

var _ mirror.Store = (*Database)(nil)

// NewDatabase si connette a MongoDB e crea gli indici univoci
func NewDatabase(ctx context.Context, cfg Config, log *logrus.Logger) (*Database, error) {
	log.WithField("database", cfg.Database).Info("Connessione a MongoDB")

	opts := options.Client().
		ApplyURI(cfg.URI).
		SetRegistry(newRegistry()).
		SetServerSelectionTimeout(10 * time.Second)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("errore nella connessione a MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("errore nel ping a MongoDB: %w", err)
	}

	db := &Database{
		client: client,
		db:     client.Database(cfg.Database),
		log:    log,
	}
	if err := db.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return db, nil
}

// newRegistry stores decimals as strings so no precision is lost.
func newRegistry() *bsoncodec.Registry {
	registry := bson.NewRegistry()
	registry.RegisterTypeEncoder(
		reflect.TypeOf(decimal.Decimal{}),
		bsoncodec.ValueEncoderFunc(func(_ bsoncodec.EncodeContext, vw bsonrw.ValueWriter, val reflect.Value) error {
			return vw.WriteString(val.Interface().(decimal.Decimal).String())
		}),
	)
	return registry
}

func (d *Database) ensureIndexes(ctx context.Context) error {
	_, err := d.db.Collection(transactionsCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "signature", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "slot", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("create transaction indexes: %w", err)
	}

	_, err = d.db.Collection(walletActivityCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "signature", Value: 1},
				{Key: "wallet_address", Value: 1},
				{Key: "activity_type", Value: 1},
			},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "wallet_address", Value: 1}, {Key: "timestamp", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("create wallet activity indexes: %w", err)
	}
	return nil
}

func (d *Database) InsertTransaction(ctx context.Context, record mirror.TransactionRecord) error {
	_, err := d.db.Collection(transactionsCollection).InsertOne(ctx, record)
	return translate(err)
}

func (d *Database) InsertWalletActivity(ctx context.Context, activity mirror.WalletActivity) error {
	_, err := d.db.Collection(walletActivityCollection).InsertOne(ctx, activity)
	return translate(err)
}

func (d *Database) Close(ctx context.Context) error {
	return d.client.Disconnect(ctx)
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	if mongo.IsDuplicateKeyError(err) {
		return mirror.ErrDuplicate
	}
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) && cmdErr.Code != 0 {
		return fmt.Errorf("mongo error %d: %w", cmdErr.Code, err)
	}
	return err
}
