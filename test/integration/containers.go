package integration

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"
)

type Env struct {
	PG      *postgres.PostgresContainer
	Rabbit  *rabbitmq.RabbitMQContainer
	PGURL   string
	AMQPURL string
}

// Setup starts postgres and rabbitmq containers and applies the schema.
func Setup(ctx context.Context) (*Env, error) {
	pgC, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("pubflow"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		return nil, err
	}

	pgURL, err := pgC.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = pgC.Terminate(ctx)
		return nil, err
	}

	rmqC, err := rabbitmq.Run(ctx, "rabbitmq:3.13-alpine")
	if err != nil {
		_ = pgC.Terminate(ctx)
		return nil, err
	}

	amqpURL, err := rmqC.AmqpURL(ctx)
	if err != nil {
		_ = rmqC.Terminate(ctx)
		_ = pgC.Terminate(ctx)
		return nil, err
	}

	env := &Env{PG: pgC, Rabbit: rmqC, PGURL: pgURL, AMQPURL: amqpURL}
	if err := env.applySchema(ctx); err != nil {
		env.Teardown(ctx)
		return nil, err
	}
	return env, nil
}

func (e *Env) applySchema(ctx context.Context) error {
	_, self, _, _ := runtime.Caller(0)
	schema, err := os.ReadFile(filepath.Join(filepath.Dir(self), "..", "..", "migrations", "001_init.sql"))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, e.PGURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	_, err = pool.Exec(ctx, string(schema))
	return err
}

func (e *Env) Teardown(ctx context.Context) {
	if e.Rabbit != nil {
		_ = e.Rabbit.Terminate(ctx)
	}
	if e.PG != nil {
		_ = e.PG.Terminate(ctx)
	}
}
