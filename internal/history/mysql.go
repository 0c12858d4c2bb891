package history

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"github.com/kjstillabower/weather-lookup-service/internal/models"
)

const createTableSQL = `CREATE TABLE IF NOT EXISTS weather_readings (
	seq          BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
	id           CHAR(36)     NOT NULL,
	user_id      VARCHAR(128) NOT NULL DEFAULT '',
	city_name    VARCHAR(128) NOT NULL,
	city_key     VARCHAR(128) NOT NULL,
	country      VARCHAR(8)   NOT NULL DEFAULT '',
	temperature  DOUBLE       NOT NULL,
	feels_like   DOUBLE       NOT NULL,
	humidity     INT          NOT NULL,
	wind_speed   DOUBLE       NOT NULL,
	description  VARCHAR(255) NOT NULL DEFAULT '',
	weather_id   INT          NOT NULL,
	latitude     DOUBLE       NOT NULL,
	longitude    DOUBLE       NOT NULL,
	timezone     VARCHAR(64)  NOT NULL DEFAULT '',
	captured_at  DATETIME(6)  NOT NULL,
	UNIQUE KEY uq_weather_readings_id (id),
	KEY idx_weather_readings_user (user_id, captured_at),
	KEY idx_weather_readings_city (city_key, captured_at)
)`

const selectColumns = `SELECT id, user_id, city_name, country, temperature, feels_like, humidity,
	wind_speed, description, weather_id, latitude, longitude, timezone, captured_at
	FROM weather_readings`

// MySQLStore keeps history in a weather_readings table.
type MySQLStore struct {
	DB     *sql.DB
	closed atomic.Bool
}

// OpenMySQLStore connects with dsn, forcing UTC parseTime, and creates the table if missing.
func OpenMySQLStore(ctx context.Context, dsn string) (*MySQLStore, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("mysql connector: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	if _, err := db.ExecContext(ctx, createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create weather_readings: %w", err)
	}
	return &MySQLStore{DB: db}, nil
}

func (s *MySQLStore) Save(ctx context.Context, r models.WeatherReading) error {
	if s.closed.Load() {
		return ErrClosed
	}
	_, err := s.DB.ExecContext(ctx, `INSERT INTO weather_readings
		(id, user_id, city_name, city_key, country, temperature, feels_like, humidity,
		 wind_speed, description, weather_id, latitude, longitude, timezone, captured_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), r.UserID, r.CityName, cityKey(r.CityName), r.Country,
		r.Temperature, r.FeelsLike, r.Humidity, r.WindSpeed, r.Description, r.WeatherID,
		r.Latitude, r.Longitude, r.Timezone, r.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert weather_reading: %w", err)
	}
	return nil
}

func (s *MySQLStore) FindByUser(ctx context.Context, userID string) ([]Record, error) {
	if userID == "" {
		return nil, ErrInvalidID
	}
	return s.query(ctx, selectColumns+` WHERE user_id = ? ORDER BY captured_at DESC, seq DESC`, userID)
}

func (s *MySQLStore) FindByCity(ctx context.Context, city string) ([]Record, error) {
	key := cityKey(city)
	if key == "" {
		return nil, ErrInvalidID
	}
	return s.query(ctx, selectColumns+` WHERE city_key = ? ORDER BY captured_at DESC, seq DESC`, key)
}

func (s *MySQLStore) query(ctx context.Context, q string, args ...any) ([]Record, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query weather_readings: %w", err)
	}
	defer rows.Close()

	out := []Record{}
	for rows.Next() {
		var rec Record
		if err := rows.Scan(
			&rec.ID,
			&rec.UserID,
			&rec.CityName,
			&rec.Country,
			&rec.Temperature,
			&rec.FeelsLike,
			&rec.Humidity,
			&rec.WindSpeed,
			&rec.Description,
			&rec.WeatherID,
			&rec.Latitude,
			&rec.Longitude,
			&rec.Timezone,
			&rec.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan weather_reading: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

func (s *MySQLStore) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.DB.PingContext(ctx)
}

// Close rejects further operations and closes the connection pool once.
func (s *MySQLStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.DB.Close()
}
