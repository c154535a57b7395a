package redis

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/kbukum/rediskit/errors"
)

// replyError is a server error reply as go-redis reports it.
type replyError string

func (e replyError) Error() string { return string(e) }
func (replyError) RedisError() {}

func queueWaiters(s *goredisSession, specs ...[2]string) []*ackWaiter {
	out := make([]*ackWaiter, 0, len(specs))
	for _, spec := range specs {
		w := &ackWaiter{kind: spec[0], target: spec[1], ch: make(chan ackResult, 1)}
		s.waiters = append(s.waiters, w)
		out = append(out, w)
	}
	return out
}

func pending(w *ackWaiter) bool {
	return len(w.ch) == 0
}

func TestResolveMatchesKindAndTarget(t *testing.T) {
	s := &goredisSession{}
	ws := queueWaiters(s, [2]string{kindSubscribe, "a"}, [2]string{kindPSubscribe, "a"}, [2]string{kindSubscribe, "b"})

	s.resolve(kindPSubscribe, "a", 2)
	require.False(t, pending(ws[1]))
	assert.Equal(t, int64(2), (<-ws[1].ch).count)
	assert.True(t, pending(ws[0]))
	assert.True(t, pending(ws[2]))

	s.resolve(kindUnsubscribe, "zzz", 0)
	assert.Len(t, s.waiters, 2, "acks nobody waits for are ignored")
}

func TestErrorReplyFailsOldestWaiter(t *testing.T) {
	s := &goredisSession{}
	ws := queueWaiters(s, [2]string{kindSubscribe, "a"}, [2]string{kindSubscribe, "b"})

	s.resolve(kindSubscribe, "b", 1)
	s.failWaiters(replyError("ERR wrong number of arguments"))

	res := <-ws[0].ch
	assert.EqualError(t, res.err, "ERR wrong number of arguments")
	assert.Empty(t, s.waiters)
}

func TestTimedOutWaiterAbsorbsLateErrorReply(t *testing.T) {
	s := &goredisSession{}
	// the first caller gave up waiting but its command is still on the wire
	ws := queueWaiters(s, [2]string{kindSubscribe, "slow"}, [2]string{kindSubscribe, "next"})

	s.failWaiters(replyError("ERR slow"))
	s.resolve(kindSubscribe, "next", 1)

	assert.Error(t, (<-ws[0].ch).err)
	res := <-ws[1].ch
	assert.NoError(t, res.err)
	assert.Equal(t, int64(1), res.count)
}

func TestBrokenConnectionFailsEveryWaiter(t *testing.T) {
	s := &goredisSession{}
	ws := queueWaiters(s, [2]string{kindSubscribe, "a"}, [2]string{kindPUnsubscribe, "b:*"})
	broken := errors.New("read: connection reset by peer")

	s.failWaiters(broken)

	for _, w := range ws {
		assert.ErrorIs(t, (<-w.ch).err, broken)
	}
	assert.Empty(t, s.waiters)
}

func TestForgetDropsOnlyThatWaiter(t *testing.T) {
	s := &goredisSession{}
	ws := queueWaiters(s, [2]string{kindSubscribe, "a"}, [2]string{kindSubscribe, "a"})

	s.forget(ws[0])
	s.resolve(kindSubscribe, "a", 1)

	assert.True(t, pending(ws[0]))
	assert.False(t, pending(ws[1]))
	assert.False(t, apperrors.IsAppError((<-ws[1].ch).err))
}
