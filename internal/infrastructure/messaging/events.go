package messaging

import amqp "github.com/rabbitmq/amqp091-go"

// Death describes the most recent dead-lettering of a delivery, read from
// the broker's x-death header.
type Death struct {
	Queue  string
	Reason string
	Count  int64
}

// LastDeath returns the first x-death entry, which the broker keeps for the
// latest dead-lettering.
func LastDeath(headers amqp.Table) (Death, bool) {
	deaths, ok := headers["x-death"].([]interface{})
	if !ok || len(deaths) == 0 {
		return Death{}, false
	}
	entry, ok := deaths[0].(amqp.Table)
	if !ok {
		return Death{}, false
	}

	d := Death{}
	d.Queue, _ = entry["queue"].(string)
	d.Reason, _ = entry["reason"].(string)
	switch count := entry["count"].(type) {
	case int64:
		d.Count = count
	case int32:
		d.Count = int64(count)
	case int:
		d.Count = int64(count)
	}
	return d, true
}
