package identity

import (
	"errors"
	"testing"

	"github.com/curtisnewbie/evbus/core"
	"github.com/curtisnewbie/evbus/middleware/rabbit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sms struct {
	phoneNum string
	msg      string
}

type recordingSender struct {
	sent []sms
	err  error
}

func (r *recordingSender) Send(rail core.Rail, phoneNum string, msg string) error {
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, sms{phoneNum, msg})
	return nil
}

func TestPasswordResetNotification(t *testing.T) {
	sender := &recordingSender{}
	n := NewNotifier(sender)

	h := rabbit.JsonHandler[UserEvent](func(rail core.Rail, eventName string, e UserEvent) error {
		return n.OnPasswordReset(rail, e)
	})
	err := h.Handle(core.EmptyRail(), EventPasswordReset,
		[]byte(`{"Id":"u-1","UserName":"yongj","Password":"Rs9#k2","PhoneNum":"13800001234"}`))
	require.NoError(t, err)

	require.Len(t, sender.sent, 1)
	assert.Equal(t, "13800001234", sender.sent[0].phoneNum)
	assert.Equal(t, "Hi yongj, your password has been reset to Rs9#k2", sender.sent[0].msg)
}

func TestUserCreatedNotification(t *testing.T) {
	sender := &recordingSender{}
	require.NoError(t, NewNotifier(sender).OnUserCreated(core.EmptyRail(), UserEvent{
		Id: "u-2", UserName: "alice", Password: "p@ss", PhoneNum: "555",
	}))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "Welcome alice, your initial password is p@ss", sender.sent[0].msg)
}

func TestNotificationFailure(t *testing.T) {
	rail := core.EmptyRail()

	n := NewNotifier(&recordingSender{})
	assert.Error(t, n.OnPasswordReset(rail, UserEvent{Id: "u-3"}))

	n = NewNotifier(&recordingSender{err: errors.New("gateway down")})
	err := n.OnPasswordReset(rail, UserEvent{Id: "u-3", PhoneNum: "13800001234"})
	assert.ErrorContains(t, err, "gateway down")
}

func TestNullPasswordResetEvent(t *testing.T) {
	h := rabbit.JsonHandler[UserEvent](func(rail core.Rail, eventName string, e UserEvent) error {
		return NewNotifier(&recordingSender{}).OnPasswordReset(rail, e)
	})
	err := h.Handle(core.EmptyRail(), EventPasswordReset, []byte("null"))
	assert.ErrorIs(t, err, rabbit.ErrNullPayload)
}

func TestMaskPhoneNum(t *testing.T) {
	assert.Equal(t, "****1234", maskPhoneNum("13800001234"))
	assert.Equal(t, "****", maskPhoneNum("12"))
	assert.NoError(t, LogSmsSender{}.Send(core.EmptyRail(), "13800001234", "hello"))
}
