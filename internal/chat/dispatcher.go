package chat

import (
	"go.uber.org/zap"
)

// Delivery summarises one dispatch call.
type Delivery struct {
	Targeted  int `json:"targeted"`
	Delivered int `json:"delivered"`
}

// Dispatcher pushes named events to endpoints. Delivery is best effort: an
// endpoint that is closed or backed up loses the frame and nothing is retried.
type Dispatcher struct {
	log *zap.Logger
}

func NewDispatcher(log *zap.Logger) *Dispatcher {
	return &Dispatcher{log: log}
}

// Dispatch encodes payload once and hands the frame to every target. The
// only error is a payload that cannot be encoded.
func (d *Dispatcher) Dispatch(event string, targets []Endpoint, payload any) (Delivery, error) {
	if len(targets) == 0 {
		return Delivery{}, nil
	}
	frame, err := EncodeFrame(event, payload)
	if err != nil {
		return Delivery{}, err
	}

	res := Delivery{Targeted: len(targets)}
	for _, ep := range targets {
		if err := ep.Send(frame); err != nil {
			d.log.Debug("dropped frame",
				zap.String("event", event), zap.String("endpoint", string(ep.ID())), zap.Error(err))
			continue
		}
		res.Delivered++
	}
	return res, nil
}
