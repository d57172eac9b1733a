package tableloader

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	redis "github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/prashanthpai/tableloader/mocks"
)

func TestRedisNotifier(t *testing.T) {
	assert := require.New(t)
	ctx := context.Background()

	var payload []byte
	publisher := new(mocks.Publisher)
	publisher.On("Publish", mock.Anything, "changes:users", mock.Anything).
		Run(func(args mock.Arguments) {
			payload = args.Get(2).([]byte)
		}).
		Return(redis.NewIntResult(1, nil)).
		Once()

	n := NewRedisNotifier(publisher, "changes:", nil)
	assert.Nil(n.Publish(ctx, ActionUpdate, []ID{NewID("users", 1), NewID("users", 2)}))

	event, err := DecodeChangeEvent(payload)
	assert.Nil(err)
	assert.Equal(&ChangeEvent{Table: "users", Action: ActionUpdate, IDs: []int64{1, 2}}, event)

	// nothing to publish
	assert.Nil(n.Publish(ctx, ActionInsert, nil))

	err = n.Publish(ctx, ActionInsert, []ID{NewID("users", 1), NewID("posts", 2)})
	assert.True(errors.Is(err, ErrIdentity))

	assert.True(publisher.AssertExpectations(t))

	_, err = DecodeChangeEvent([]byte{0xc1})
	assert.NotNil(err)
}

func TestRedisNotifierErrors(t *testing.T) {
	assert := require.New(t)

	publisher := new(mocks.Publisher)
	publisher.On("Publish", mock.Anything, "posts", mock.Anything).
		Return(redis.NewIntResult(0, errors.New("connection refused")))

	logger, hook := test.NewNullLogger()
	n := NewRedisNotifier(publisher, "", logger)

	table := &Table{Name: "posts"}
	n.Attach(table)
	table.OnInsert(context.Background(), []ID{NewID("posts", 1)})
	table.OnUpdate(context.Background(), []ID{NewID("posts", 1)})

	assert.Len(hook.AllEntries(), 2)
	assert.Equal(logrus.ErrorLevel, hook.LastEntry().Level)
	assert.Contains(hook.LastEntry().Data[logrus.ErrorKey].(error).Error(), "connection refused")
	assert.True(publisher.AssertExpectations(t))
}
