package amqp

import (
	"context"
	"errors"
	"github.com/jt05610/benchtop/dispatch"
	"github.com/jt05610/benchtop/gcode"
	"github.com/jt05610/benchtop/marlin"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
	"time"
)

// Driver is what remote commands run against. *dispatch.Dispatcher satisfies it.
type Driver interface {
	Send(ctx context.Context, name string, params gcode.Params) error
	GetPosition(ctx context.Context) (marlin.Position, error)
	Estimate() (dispatch.Estimate, bool)
}

type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Server consumes <device>.commands.<name> and <device>.state.get and
// publishes results on <device>.events.<name> and <device>.state.current.
type Server struct {
	ch       Publisher
	exchange string
	deviceID string
	driver   Driver
	logger   *zap.Logger
	cmd      *CommandService
	event    *EventService
}

func NewServer(ch Publisher, exchange, deviceID string, driver Driver, logger *zap.Logger) *Server {
	return &Server{
		ch:       ch,
		exchange: exchange,
		deviceID: deviceID,
		driver:   driver,
		logger:   logger,
		cmd:      &CommandService{},
		event:    &EventService{},
	}
}

func (s *Server) run(ctx context.Context, c *Command) *Result {
	res := &Result{Name: c.Name, ID: c.ID}
	start := time.Now()
	var err error
	if c.Name == gcode.PositionCommand {
		var pos marlin.Position
		pos, err = s.driver.GetPosition(ctx)
		if err == nil {
			res.Position = &pos
		}
	} else {
		err = s.driver.Send(ctx, c.Name, c.Params)
	}
	res.Elapsed = time.Since(start).Seconds()
	res.OK = err == nil
	res.Outcome = dispatch.Outcome(err)
	if err != nil {
		res.Error = err.Error()
	}
	return res
}

func (s *Server) state() *State {
	est, known := s.driver.Estimate()
	return &State{Position: est.Position, Known: known, Confirmed: est.Confirmed}
}

// Handle runs one delivery and publishes its reply. Command failures are
// reported in the reply, not returned.
func (s *Server) Handle(ctx context.Context, d amqp.Delivery) error {
	c, err := s.cmd.Load(ctx, d)
	if err != nil {
		return err
	}
	if c.To != s.deviceID {
		s.logger.Warn("Ignoring command for another device", zap.String("to", c.To))
		return nil
	}
	var (
		key string
		v   any
	)
	switch c.Topic {
	case "commands":
		s.logger.Info("Remote command", zap.String("command", c.Name), zap.String("id", c.ID))
		res := s.run(ctx, c)
		key, v = s.deviceID+".events."+c.Name, res
	case "state":
		key, v = s.deviceID+".state.current", s.state()
	default:
		return ErrRoutingKey
	}
	msg, err := s.event.Flush(ctx, c.Name, c.ID, v)
	if err != nil {
		return err
	}
	return s.ch.PublishWithContext(ctx, s.exchange, key, false, false, msg)
}

// Listen declares the exchange and a private queue bound to this device's
// keys, then handles deliveries one at a time until ctx is done.
func (s *Server) Listen(ctx context.Context, ch *amqp.Channel) error {
	err := ch.ExchangeDeclare(
		s.exchange, // name
		"topic",    // type
		false,      // durable
		false,      // delete when unused
		false,      // exclusive
		false,      // no-wait
		nil,        // arguments
	)
	if err != nil {
		return err
	}
	q, err := ch.QueueDeclare(
		"",    // name
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return err
	}
	for _, key := range []string{s.deviceID + ".commands.*", s.deviceID + ".state.get"} {
		if err := ch.QueueBind(q.Name, key, s.exchange, false, nil); err != nil {
			return err
		}
	}
	msgs, err := ch.Consume(
		q.Name, // queue
		"",     // consumer
		true,   // auto-ack
		true,   // exclusive
		false,  // no-local
		false,  // no-wait
		nil,    // args
	)
	if err != nil {
		return err
	}
	s.logger.Info("Listening", zap.String("exchange", s.exchange), zap.String("device", s.deviceID))
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return errors.New("delivery channel closed")
			}
			if err := s.Handle(ctx, d); err != nil {
				s.logger.Error("Failed to handle delivery", zap.String("key", d.RoutingKey), zap.Error(err))
			}
		}
	}
}
