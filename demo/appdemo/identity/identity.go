package identity

import (
	"fmt"

	"github.com/curtisnewbie/evbus/core"
	"github.com/curtisnewbie/evbus/middleware/rabbit"
	"github.com/curtisnewbie/evbus/util/errs"
	"github.com/curtisnewbie/evbus/util/strutil"
)

const (
	EventUserCreated   = "IdentityService.User.Created"
	EventPasswordReset = "IdentityService.User.PasswordReset"
)

// Event published when a user is created or the user's password is reset.
type UserEvent struct {
	Id       string
	UserName string
	Password string
	PhoneNum string
}

type SmsSender interface {
	Send(rail core.Rail, phoneNum string, msg string) error
}

// SmsSender that only writes the message to log.
type LogSmsSender struct{}

func (LogSmsSender) Send(rail core.Rail, phoneNum string, msg string) error {
	rail.Infof("Sending SMS to %v: %v", maskPhoneNum(phoneNum), msg)
	return nil
}

func maskPhoneNum(p string) string {
	if len(p) <= 4 {
		return "****"
	}
	return "****" + p[len(p)-4:]
}

// Notify users about their credentials by SMS.
type Notifier struct {
	sender SmsSender
}

func NewNotifier(sender SmsSender) *Notifier {
	return &Notifier{sender: sender}
}

func (n *Notifier) OnUserCreated(rail core.Rail, e UserEvent) error {
	return n.notify(rail, e, "Welcome %v, your initial password is %v")
}

func (n *Notifier) OnPasswordReset(rail core.Rail, e UserEvent) error {
	return n.notify(rail, e, "Hi %v, your password has been reset to %v")
}

func (n *Notifier) notify(rail core.Rail, e UserEvent, pat string) error {
	if strutil.IsBlankStr(e.PhoneNum) {
		return errs.NewErrf("user '%v' doesn't have a phone number", e.Id)
	}
	if err := n.sender.Send(rail, e.PhoneNum, fmt.Sprintf(pat, e.UserName, e.Password)); err != nil {
		return errs.WrapErrf(err, "failed to notify user '%v'", e.Id)
	}
	return nil
}

func UserCreatedPipeline(bus *rabbit.EventBus) *rabbit.EventPipeline[UserEvent] {
	return rabbit.NewEventPipeline[UserEvent](bus, EventUserCreated)
}

func PasswordResetPipeline(bus *rabbit.EventBus) *rabbit.EventPipeline[UserEvent] {
	return rabbit.NewEventPipeline[UserEvent](bus, EventPasswordReset)
}

// Subscribe the notifier to user events.
func Register(rail core.Rail, bus *rabbit.EventBus, n *Notifier) error {
	if err := UserCreatedPipeline(bus).Listen(rail, "identity.user-created-sms", n.OnUserCreated); err != nil {
		return err
	}
	return PasswordResetPipeline(bus).Listen(rail, "identity.password-reset-sms", n.OnPasswordReset)
}
