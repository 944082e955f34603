package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/jt05610/benchtop/env"
	"github.com/jt05610/benchtop/gcode"
	"github.com/jt05610/benchtop/marlin"
	amqp "github.com/rabbitmq/amqp091-go"
	"strings"
)

var ErrRoutingKey = errors.New("invalid routing key")

// Command is a request addressed as <device>.<topic>.<name>.
type Command struct {
	To     string
	Topic  string
	Name   string
	ID     string
	Params gcode.Params
}

type CommandService struct{}

func (a *CommandService) Load(_ context.Context, data amqp.Delivery) (*Command, error) {
	sk := strings.Split(data.RoutingKey, ".")
	if len(sk) != 3 {
		return nil, fmt.Errorf("%w: %q", ErrRoutingKey, data.RoutingKey)
	}
	res := &Command{
		To:    sk[0],
		Topic: sk[1],
		Name:  sk[2],
	}
	if id, ok := data.Headers["x-event-id"].(string); ok {
		res.ID = id
	}
	if len(data.Body) == 0 {
		return res, nil
	}
	return res, json.Unmarshal(data.Body, &res.Params)
}

// Result reports the outcome of one command.
type Result struct {
	Name     string           `json:"name"`
	ID       string           `json:"id,omitempty"`
	OK       bool             `json:"ok"`
	Outcome  string           `json:"outcome"`
	Error    string           `json:"error,omitempty"`
	Elapsed  float64          `json:"elapsed_s"`
	Position *marlin.Position `json:"position,omitempty"`
}

// State is the tracked tool position.
type State struct {
	Position  marlin.Position `json:"position"`
	Known     bool            `json:"known"`
	Confirmed bool            `json:"confirmed"`
}

type EventService struct{}

// Flush encodes v as a persistent JSON publishing tagged with the event name and id.
func (a *EventService) Flush(_ context.Context, name, id string, v any) (amqp.Publishing, error) {
	bytes, err := json.Marshal(v)
	if err != nil {
		return amqp.Publishing{}, err
	}
	return amqp.Publishing{
		Body:         bytes,
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Headers: amqp.Table{
			"x-event-name": name,
			"x-event-id":   id,
		},
	}, nil
}

type Connection struct {
	*amqp.Connection
	*amqp.Channel
}

func (c *Connection) Close() error {
	if c.Channel != nil {
		if err := c.Channel.Close(); err != nil {
			return errors.Join(err, c.Connection.Close())
		}
	}
	return c.Connection.Close()
}

func Dial(environ *env.Environment) (*Connection, error) {
	if environ.URI == "" {
		return nil, errors.New("RABBITMQ_URI not set")
	}
	conn, err := amqp.Dial(environ.URI)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, errors.Join(err, conn.Close())
	}
	return &Connection{conn, ch}, nil
}
