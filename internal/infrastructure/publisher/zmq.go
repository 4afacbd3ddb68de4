package publisher

import (
	"encoding/json"
	"fmt"

	"github.com/pebbe/zmq4"

	"forest_service/internal/domain/model"
)

// Topics downstream subscribers filter on.
const (
	TopicTimeSeries = "forest.timeseries"
	TopicAnnualLoss = "forest.annual_loss"
)

// Publisher pushes finished results to downstream consumers (narrative
// generation, reporting) over a ZeroMQ PUB socket. Purely a consumer-facing
// surface: nothing feeds back into the core.
type Publisher struct {
	socket *zmq4.Socket
}

func New(bindAddr string) (*Publisher, error) {
	socket, err := zmq4.NewSocket(zmq4.PUB)
	if err != nil {
		return nil, fmt.Errorf("failed to create publisher socket: %w", err)
	}
	if err := socket.Bind(bindAddr); err != nil {
		socket.Close()
		return nil, fmt.Errorf("failed to bind publisher to %s: %w", bindAddr, err)
	}
	return &Publisher{socket: socket}, nil
}

// PublishTimeSeries sends a finished run as a JSON envelope.
func (p *Publisher) PublishTimeSeries(series *model.TimeSeries) error {
	return p.publish(TopicTimeSeries, series)
}

// PublishAnnualLoss sends a finished baseline extraction.
func (p *Publisher) PublishAnnualLoss(records []model.AnnualLossRecord) error {
	return p.publish(TopicAnnualLoss, records)
}

func (p *Publisher) publish(topic string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload for %s: %w", topic, err)
	}
	if _, err := p.socket.SendMessage(topic, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.socket.Close()
}
