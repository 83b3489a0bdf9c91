package internal

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"evcsms/internal/config"
	"evcsms/models"
)

const (
	collectionLog          = "sys_log"
	collectionTransactions = "transactions"
	collectionMeterValues  = "meter_values"
	collectionErrors       = "errors"
)

type MongoDB struct {
	ctx           context.Context
	clientOptions *options.ClientOptions
	database      string
}

func NewMongoClient(conf *config.Config) (*MongoDB, error) {
	if !conf.Mongo.Enabled {
		return nil, nil
	}
	connectionUri := fmt.Sprintf("mongodb://%s:%s", conf.Mongo.Host, conf.Mongo.Port)
	clientOptions := options.Client().ApplyURI(connectionUri)
	if conf.Mongo.User != "" {
		clientOptions.SetAuth(options.Credential{
			Username:   conf.Mongo.User,
			Password:   conf.Mongo.Password,
			AuthSource: conf.Mongo.Database,
		})
	}
	client := &MongoDB{
		ctx:           context.Background(),
		clientOptions: clientOptions,
		database:      conf.Mongo.Database,
	}
	return client, nil
}

func (m *MongoDB) connect() (*mongo.Client, error) {
	connection, err := mongo.Connect(m.ctx, m.clientOptions)
	if err != nil {
		return nil, err
	}
	return connection, nil
}

func (m *MongoDB) disconnect(connection *mongo.Client) {
	err := connection.Disconnect(m.ctx)
	if err != nil {
		log.Println("mongodb disconnect error;", err)
	}
}

func (m *MongoDB) WriteLogMessage(data Data) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)
	collection := connection.Database(m.database).Collection(collectionLog)
	_, err = collection.InsertOne(m.ctx, data)
	return err
}

func (m *MongoDB) RecordTransactionStart(chargerId string, transactionId int, startTime time.Time, idTag string, meterStart int) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)
	collection := connection.Database(m.database).Collection(collectionTransactions)
	_, err = collection.InsertOne(m.ctx, bson.M{
		"charger_id":     chargerId,
		"transaction_id": transactionId,
		"time_start":     startTime,
		"id_tag":         idTag,
		"meter_start":    meterStart,
		"is_finished":    false,
	})
	return err
}

func (m *MongoDB) RecordTransactionStop(chargerId string, transactionId int, stopTime time.Time, meterStop int, reason string) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)
	collection := connection.Database(m.database).Collection(collectionTransactions)
	filter := bson.M{"charger_id": chargerId, "transaction_id": transactionId}
	update := bson.M{"$set": bson.M{
		"time_stop":   stopTime,
		"meter_stop":  meterStop,
		"reason":      reason,
		"is_finished": true,
	}}
	_, err = collection.UpdateOne(m.ctx, filter, update)
	return err
}

func (m *MongoDB) RecordMeterValue(chargerId string, transactionId int, sample models.MeterRecord) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)
	collection := connection.Database(m.database).Collection(collectionMeterValues)
	_, err = collection.InsertOne(m.ctx, bson.M{
		"charger_id":     chargerId,
		"transaction_id": transactionId,
		"timestamp":      sample.Timestamp,
		"measurand":      sample.Measurand,
		"value":          sample.Value,
		"unit":           sample.Unit,
		"context":        sample.Context,
	})
	return err
}

func (m *MongoDB) RecordError(chargerId string, status string, errorCode string, info string) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)
	collection := connection.Database(m.database).Collection(collectionErrors)
	_, err = collection.InsertOne(m.ctx, bson.M{
		"charger_id": chargerId,
		"status":     status,
		"error_code": errorCode,
		"info":       info,
		"timestamp":  time.Now().UTC(),
	})
	return err
}

// GetSummary aggregates finished transactions per charger; energy is the
// meter counter delta reduced to kWh.
func (m *MongoDB) GetSummary() ([]models.SummaryRow, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)
	collection := connection.Database(m.database).Collection(collectionTransactions)
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$charger_id"},
			{Key: "sessions", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "energy_kwh", Value: bson.D{{Key: "$sum", Value: bson.D{{Key: "$divide", Value: bson.A{
				bson.D{{Key: "$subtract", Value: bson.A{
					bson.D{{Key: "$ifNull", Value: bson.A{"$meter_stop", 0}}},
					bson.D{{Key: "$ifNull", Value: bson.A{"$meter_start", 0}}},
				}}},
				1000.0,
			}}}}}},
			{Key: "last_stop", Value: bson.D{{Key: "$max", Value: "$time_stop"}}},
		}}},
		bson.D{{Key: "$sort", Value: bson.D{{Key: "_id", Value: 1}}}},
	}
	cursor, err := collection.Aggregate(m.ctx, pipeline)
	if err != nil {
		return nil, err
	}
	var rows []models.SummaryRow
	if err = cursor.All(m.ctx, &rows); err != nil {
		return nil, err
	}

	errors := connection.Database(m.database).Collection(collectionErrors)
	for i := range rows {
		var last struct {
			ErrorCode string `bson:"error_code"`
		}
		opts := options.FindOne().SetSort(bson.D{{Key: "timestamp", Value: -1}})
		err := errors.FindOne(m.ctx, bson.M{"charger_id": rows[i].ChargerId}, opts).Decode(&last)
		if err == nil {
			rows[i].LastError = last.ErrorCode
		}
	}
	return rows, nil
}
