package tableloader

import (
	"context"

	"github.com/cockroachdb/errors"
	redis "github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	msgpack "github.com/vmihailenco/msgpack/v4"
)

// Publisher is the part of a go-redis client used by RedisNotifier.
// redis.UniversalClient satisfies it.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

const (
	// ActionInsert marks events published after inserts.
	ActionInsert = "insert"
	// ActionUpdate marks events published after updates and deletes.
	ActionUpdate = "update"
)

// ChangeEvent is the msgpack encoded message published for every change.
type ChangeEvent struct {
	Table  string  `msgpack:"table"`
	Action string  `msgpack:"action"`
	IDs    []int64 `msgpack:"ids"`
}

// RedisNotifier publishes table changes to redis channels named after their table,
// so that other processes can drop what they cached about the changed rows.
type RedisNotifier struct {
	c             Publisher
	channelPrefix string
	logger        logrus.FieldLogger
}

// NewRedisNotifier creates a new RedisNotifier publishing through c. Channels are
// named channelPrefix followed by the table name. A nil logger defaults to
// logrus.StandardLogger().
func NewRedisNotifier(c Publisher, channelPrefix string, logger logrus.FieldLogger) *RedisNotifier {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &RedisNotifier{
		c:             c,
		channelPrefix: channelPrefix,
		logger:        logger,
	}
}

// Attach sets t's OnInsert and OnUpdate callbacks to publish through r.
func (r *RedisNotifier) Attach(t *Table) {
	t.OnInsert = r.OnInsert
	t.OnUpdate = r.OnUpdate
}

// Publish sends one event for ids. All ids must belong to the same table.
func (r *RedisNotifier) Publish(ctx context.Context, action string, ids []ID) error {
	if len(ids) == 0 {
		return nil
	}
	table := ids[0].Table
	for _, id := range ids[1:] {
		if id.Table != table {
			return &IdentityError{Table: table, Got: id.Table, Value: id.Value}
		}
	}

	b, err := msgpack.Marshal(&ChangeEvent{
		Table:  table,
		Action: action,
		IDs:    idValues(ids),
	})
	if err != nil {
		return errors.Wrap(err, "encoding change event")
	}

	if err := r.c.Publish(ctx, r.channelPrefix+table, b).Err(); err != nil {
		return errors.Wrapf(err, "publishing %s of %q", action, table)
	}
	return nil
}

// OnInsert publishes an insert event, logging failures.
func (r *RedisNotifier) OnInsert(ctx context.Context, ids []ID) {
	if err := r.Publish(ctx, ActionInsert, ids); err != nil {
		r.logger.WithError(err).Error("failed to publish change event")
	}
}

// OnUpdate publishes an update event, logging failures.
func (r *RedisNotifier) OnUpdate(ctx context.Context, ids []ID) {
	if err := r.Publish(ctx, ActionUpdate, ids); err != nil {
		r.logger.WithError(err).Error("failed to publish change event")
	}
}

// DecodeChangeEvent decodes the payload of a message published by a RedisNotifier.
func DecodeChangeEvent(payload []byte) (*ChangeEvent, error) {
	var event ChangeEvent
	if err := msgpack.Unmarshal(payload, &event); err != nil {
		return nil, errors.Wrap(err, "decoding change event")
	}
	return &event, nil
}
