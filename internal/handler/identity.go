package handler

import (
	"context"

	"github.com/composeforge/composeforge/internal/auth"
	"github.com/composeforge/composeforge/internal/composeconst"
	"github.com/composeforge/composeforge/internal/model"
	"github.com/composeforge/composeforge/internal/service"
	"github.com/composeforge/composeforge/internal/session"
	"github.com/composeforge/composeforge/internal/settings"
	"github.com/composeforge/composeforge/internal/stack"
	"github.com/composeforge/composeforge/internal/wire"
)

const minPasswordLength = 6

// NeedSetup reports whether no account exists yet, per original_source's
// needSetup — the client shows the first-run setup screen until a user row
// exists.
func (h *Handlers) NeedSetup(ctx context.Context, sess *session.Session, msg wire.ClientMessage, c *wire.Conn) {
	var count int64
	if err := h.db.WithContext(ctx).Model(&model.User{}).Count(&count).Error; err != nil {
		_ = c.Reply(msg.AckID, wire.Fail(err.Error()))
		return
	}
	_ = c.Reply(msg.AckID, replyOK(map[string]any{"needSetup": count == 0}))
}

// Setup creates the single admin account. Refuses once any user already
// exists — composeforge has exactly one account, no per-user ACLs (spec
// §1 Non-goals).
func (h *Handlers) Setup(ctx context.Context, sess *session.Session, msg wire.ClientMessage, c *wire.Conn) {
	username := argString(msg.Args, 0)
	password := argString(msg.Args, 1)

	var count int64
	if err := h.db.WithContext(ctx).Model(&model.User{}).Count(&count).Error; err != nil {
		_ = c.Reply(msg.AckID, wire.Fail(err.Error()))
		return
	}
	if count != 0 {
		_ = c.Reply(msg.AckID, wire.Fail("setup has already been completed"))
		return
	}
	if username == "" {
		_ = c.Reply(msg.AckID, wire.Fail("username must not be empty"))
		return
	}
	if len(password) < minPasswordLength {
		_ = c.Reply(msg.AckID, wire.Fail("password must be at least 6 characters"))
		return
	}

	hashed, err := auth.HashPassword(password)
	if err != nil {
		_ = c.Reply(msg.AckID, wire.Fail(err.Error()))
		return
	}
	user := model.User{Username: username, Password: hashed, Active: true}
	if err := h.db.WithContext(ctx).Create(&user).Error; err != nil {
		_ = c.Reply(msg.AckID, wire.Fail(err.Error()))
		return
	}

	for _, other := range h.sessions.Authenticated() {
		_ = other.Conn().Push("setup")
	}

	token, err := h.afterLogin(ctx, sess, &user)
	if err != nil {
		_ = c.Reply(msg.AckID, wire.Fail(err.Error()))
		return
	}
	_ = c.Reply(msg.AckID, replyOK(map[string]any{"token": token, "msg": "successAdded", "msgi18n": true}))
}

type loginRequest struct {
	Username string  `json:"username"`
	Password string  `json:"password"`
	Token    *string `json:"token,omitempty"`
}

// Login verifies credentials (and, if 2FA is enabled, a TOTP code) and
// issues a bearer token. Rate-limited per client IP at
// auth.LoginPerMinute; once exhausted the caller gets an ok:false reply
// with a "Too many login attempts" message.
func (h *Handlers) Login(ctx context.Context, sess *session.Session, msg wire.ClientMessage, c *wire.Conn) {
	ip := ClientIPFromContext(ctx)
	if ip != "" && !h.limiters.Login.Allow(ip) {
		_ = c.Reply(msg.AckID, wire.Fail("Too many login attempts, please try again later"))
		return
	}

	var req loginRequest
	if err := arg(msg.Args, 0, &req); err != nil {
		_ = c.Reply(msg.AckID, wire.Fail("malformed login request"))
		return
	}

	var user model.User
	err := h.db.WithContext(ctx).Where("username = ? COLLATE NOCASE", req.Username).First(&user).Error
	if err != nil || !auth.CheckPassword(user.Password, req.Password) {
		_ = c.Reply(msg.AckID, wire.Fail("Invalid username or password"))
		return
	}
	if !user.Active {
		_ = c.Reply(msg.AckID, wire.Fail("account is disabled"))
		return
	}

	if auth.NeedsRehash(user.Password) {
		if rehashed, err := auth.HashPassword(req.Password); err == nil {
			user.Password = rehashed
			_ = h.db.WithContext(ctx).Model(&user).Update("password", rehashed).Error
		}
	}

	if user.TwoFAStatus {
		if req.Token == nil || *req.Token == "" {
			_ = c.Reply(msg.AckID, replyOK(map[string]any{"tokenRequired": true}))
			return
		}
		if ip != "" && !h.limiters.TwoFA.Allow(ip) {
			_ = c.Reply(msg.AckID, wire.Fail("Too many 2FA attempts, please try again later"))
			return
		}
		valid, err := h.totp.ValidateLogin(ctx, user.ID, *req.Token)
		switch {
		case err == service.ErrTOTPCodeReused:
			_ = c.Reply(msg.AckID, wire.Fail("2FA code has already been used"))
			return
		case err != nil:
			_ = c.Reply(msg.AckID, wire.Fail(err.Error()))
			return
		case !valid:
			_ = c.Reply(msg.AckID, wire.Fail("Invalid 2FA code"))
			return
		}
	}

	token, err := h.afterLogin(ctx, sess, &user)
	if err != nil {
		_ = c.Reply(msg.AckID, wire.Fail(err.Error()))
		return
	}
	_ = c.Reply(msg.AckID, replyOK(map[string]any{"token": token}))
}

// LoginByToken re-authenticates a session from a previously issued bearer
// token. The token's embedded password-hash fingerprint is checked against
// the user's *current* hash, so a changed password silently invalidates
// every token issued before it (spec §8 property 4).
func (h *Handlers) LoginByToken(ctx context.Context, sess *session.Session, msg wire.ClientMessage, c *wire.Conn) {
	token := argString(msg.Args, 0)

	jwtSecret, err := h.requireSetting(ctx, settings.JWTSecret)
	if err != nil {
		_ = c.Reply(msg.AckID, wire.Fail(err.Error()))
		return
	}

	username, err := auth.VerifyToken(token, jwtSecret, func(username string) (string, error) {
		var u model.User
		if err := h.db.WithContext(ctx).Where("username = ? COLLATE NOCASE", username).First(&u).Error; err != nil {
			return "", err
		}
		return u.Password, nil
	})
	if err != nil {
		_ = c.Reply(msg.AckID, wire.Fail("invalid or expired token"))
		return
	}

	var user model.User
	if err := h.db.WithContext(ctx).Where("username = ? COLLATE NOCASE", username).First(&user).Error; err != nil {
		_ = c.Reply(msg.AckID, wire.Fail("invalid or expired token"))
		return
	}
	if !user.Active {
		_ = c.Reply(msg.AckID, wire.Fail("account is disabled"))
		return
	}

	if _, err := h.afterLogin(ctx, sess, &user); err != nil {
		_ = c.Reply(msg.AckID, wire.Fail(err.Error()))
		return
	}
	_ = c.Reply(msg.AckID, replyOK(nil))
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// ChangePassword updates the account's password and disconnects every
// other live session belonging to the same user — a real disconnect, not
// original_source's notify-only "refresh" stub (SPEC_FULL supplement).
func (h *Handlers) ChangePassword(ctx context.Context, sess *session.Session, msg wire.ClientMessage, c *wire.Conn) {
	var req changePasswordRequest
	if err := arg(msg.Args, 0, &req); err != nil {
		_ = c.Reply(msg.AckID, wire.Fail("malformed request"))
		return
	}
	if len(req.NewPassword) < minPasswordLength {
		_ = c.Reply(msg.AckID, wire.Fail("new password must be at least 6 characters"))
		return
	}

	var user model.User
	if err := h.db.WithContext(ctx).First(&user, sess.UserID()).Error; err != nil {
		_ = c.Reply(msg.AckID, wire.Fail(err.Error()))
		return
	}
	if !auth.CheckPassword(user.Password, req.CurrentPassword) {
		_ = c.Reply(msg.AckID, wire.Fail("current password is incorrect"))
		return
	}

	hashed, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		_ = c.Reply(msg.AckID, wire.Fail(err.Error()))
		return
	}
	if err := h.db.WithContext(ctx).Model(&user).Update("password", hashed).Error; err != nil {
		_ = c.Reply(msg.AckID, wire.Fail(err.Error()))
		return
	}

	h.closeOtherSessions(sess)
	_ = c.Reply(msg.AckID, replyOK(map[string]any{"msg": "Password changed successfully"}))
}

// DisconnectOtherSocketClients closes every other live session belonging
// to the caller's user, e.g. after reviewing an active-sessions list.
func (h *Handlers) DisconnectOtherSocketClients(ctx context.Context, sess *session.Session, msg wire.ClientMessage, c *wire.Conn) {
	h.closeOtherSessions(sess)
	_ = c.Reply(msg.AckID, replyOK(nil))
}

func (h *Handlers) closeOtherSessions(sess *session.Session) {
	for _, other := range h.sessions.OthersForUser(sess.UserID(), sess.ID()) {
		_ = other.Conn().Push("refresh")
		_ = other.Close()
	}
}

// afterLogin marks sess authenticated, indexes it by user id, sends the
// initial info/stackList snapshot, wires up this session's federation
// manager, and issues a fresh bearer token. Mirrors
// original_source/src/socket_handlers/auth.rs::after_login's sequence.
func (h *Handlers) afterLogin(ctx context.Context, sess *session.Session, user *model.User) (string, error) {
	sess.Authenticate(user.ID, user.Username)
	h.sessions.MarkAuthenticated(sess)

	latestVersion, _, _ := h.settings.Get(ctx, settings.LatestVersion)
	primaryHostname, _, _ := h.settings.Get(ctx, settings.PrimaryHostname)
	_ = sess.Conn().Push("info", map[string]any{
		"version":         composeconst.Version,
		"latestVersion":   latestVersion,
		"isContainer":     isRunningInContainer(),
		"primaryHostname": primaryHostname,
	})

	if list, err := stack.GetStackList(ctx, h.cfg.StacksDir, h.cfg.GlobalEnvPath(), sess.Endpoint()); err == nil {
		_ = sess.Conn().Push("stackList", map[string]any{"ok": true, "stackList": simplifyStackList(list)})
	}

	encKey, err := h.requireSetting(ctx, settings.PasswordEncryptionKey)
	if err == nil {
		mgr := h.agentManagerFor(sess, encKey)
		mgr.SendAgentList(ctx)
		mgr.ConnectAll(ctx)
	}

	jwtSecret, err := h.requireSetting(ctx, settings.JWTSecret)
	if err != nil {
		return "", err
	}
	return auth.CreateToken(user.Username, user.Password, jwtSecret)
}
