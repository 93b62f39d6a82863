package session

import (
	"context"
	"errors"
	"fmt"
	"sort"

	accessmodel "senweaver-server-go/internal/domain/access/model"
	"senweaver-server-go/internal/domain/auth"
	"senweaver-server-go/internal/domain/eventbus"
	"senweaver-server-go/internal/domain/keypool/model"
	"senweaver-server-go/internal/domain/session"
)

// HandleMessage dispatches one inbound frame. Frames of one session must be
// handled in arrival order by a single goroutine.
func (c *Coordinator) HandleMessage(ctx context.Context, sess *session.Session, raw []byte) {
	var env envelope
	if err := decode(raw, &env); err != nil {
		c.logger.WarnTag(logTag, "客户端 %s 消息解析失败: %v", sess.ID(), err)
		_ = c.sendError(ctx, sess, msgBadMessage, CodeBadMessage)
		return
	}

	var err error
	switch env.Type {
	case TypePing:
		err = c.send(ctx, sess, pongMessage{Type: TypePong, Timestamp: stamp(c.now())})
	case TypeInit:
		var msg InitMessage
		if err = decode(raw, &msg); err == nil {
			c.onInit(ctx, sess, msg)
		}
	case TypeHeartbeat:
		var msg HeartbeatMessage
		if err = decode(raw, &msg); err == nil {
			c.onHeartbeat(ctx, sess, msg)
		}
	case TypeUsageReport:
		var msg UsageReportMessage
		if err = decode(raw, &msg); err == nil {
			c.onUsageReport(ctx, sess, msg)
		}
	default:
		c.logger.DebugTag(logTag, "客户端 %s 发送未知消息类型: %s", sess.ID(), env.Type)
		return
	}
	if err != nil && !errors.Is(err, ErrSessionGone) {
		c.logger.WarnTag(logTag, "客户端 %s 处理 %s 消息失败: %v", sess.ID(), env.Type, err)
		_ = c.sendError(ctx, sess, msgBadMessage, CodeBadMessage)
	}

	// 会话可能在处理过程中被其他连接挤下线，此时补充释放
	if sess.State() == session.StateDisconnected {
		if n, err := c.engine.Release(ctx, sess.ID(), ""); err == nil && n > 0 {
			c.logger.DebugTag(logTag, "已断开的客户端 %s 补充释放 %d 个分配", sess.ID(), n)
		}
	}
}

func (c *Coordinator) onInit(ctx context.Context, sess *session.Session, msg InitMessage) {
	// 切换身份需要与心跳相同的签名
	if msg.UserID != "" && msg.UserID != sess.Identity() &&
		!c.verifier.VerifyHeartbeat(msg.UserID, string(msg.Timestamp), msg.Auth) {
		c.metrics.RecordAuthFailure(auth.PurposeHeartbeat)
		c.logger.WarnTag(logTag, "客户端 %s 切换身份到 %s 验证失败，强制断开", sess.ID(), msg.UserID)
		c.terminate(ctx, sess, ClosePolicyViolation, ReasonAuthFailed)
		return
	}
	c.switchIdentity(ctx, sess, msg.UserID)
	identity := sess.Identity()

	if sess.Privileged() {
		_ = c.send(ctx, sess, initSuccessMessage{Type: TypeInitSuccess, Message: msgInitOK, UserID: identity})
		return
	}

	if identity != "" {
		standing, err := c.access.Standing(ctx, identity)
		if err != nil {
			c.logger.ErrorTag(logTag, "查询用户 %s 状态失败: %v", identity, err)
		} else if standing.Blocked() {
			c.pushDisabled(ctx, sess, standing)
			return
		} else {
			sess.SetAccessEnabled(true)
		}
	}

	var details []string
	for _, name := range sortedNames(msg.ModelProviders) {
		provider, ok := model.ParseProviderName(name)
		if !ok {
			c.logger.WarnTag(logTag, "客户端 %s 上报未知供应商 %q，已忽略", sess.ID(), name)
			continue
		}
		reported := msg.ModelProviders[name]
		if reported.APIKey == nil {
			details = append(details, fmt.Sprintf("%s密钥缺失", provider))
			continue
		}
		if !c.accepts(ctx, sess, provider, *reported.APIKey, identity) {
			details = append(details, fmt.Sprintf("%s密钥不在配置池中", provider))
		}
	}

	if len(details) == 0 {
		c.logger.DebugTag(logTag, "客户端 %s 的密钥配置有效，无需更新", sess.ID())
		_ = c.send(ctx, sess, initSuccessMessage{Type: TypeInitSuccess, Message: msgInitOK, UserID: identity})
		return
	}

	c.logger.InfoTag(logTag, "需要为客户端 %s 重新分配配置: %v", sess.ID(), details)
	creds, err := c.engine.AllocateAll(ctx, sess.ID(), identity)
	if err != nil {
		c.logger.ErrorTag(logTag, "为客户端 %s 分配密钥失败: %v", sess.ID(), err)
	}
	if len(creds) == 0 {
		_ = c.sendError(ctx, sess, msgPoolFull, CodeKeyPoolFull)
		return
	}
	_ = c.send(ctx, sess, configUpdateMessage{
		Type:           TypeConfigUpdate,
		Timestamp:      stamp(c.now()),
		ModelProviders: creds,
		Reason:         reasonReassigned,
		Details:        details,
	})
}

func (c *Coordinator) onHeartbeat(ctx context.Context, sess *session.Session, msg HeartbeatMessage) {
	identity := msg.UserID
	if identity == "" {
		identity = sess.Identity()
	}
	if identity != "" && !c.verifier.VerifyHeartbeat(identity, string(msg.Timestamp), msg.Auth) {
		c.metrics.RecordAuthFailure(auth.PurposeHeartbeat)
		c.logger.WarnTag(logTag, "客户端 %s (用户 %s) 心跳验证失败，强制断开", sess.ID(), identity)
		c.terminate(ctx, sess, ClosePolicyViolation, ReasonHeartbeatAuthFailed)
		return
	}

	c.switchIdentity(ctx, sess, msg.UserID)
	c.registry.UpdateHeartbeat(sess.ID(), c.now())
	if sess.State() == session.StateDisconnected {
		return
	}

	if identity != "" && !sess.Privileged() {
		standing, err := c.access.Standing(ctx, identity)
		switch {
		case err != nil:
			// 存储暂不可用，等下一次心跳
			c.logger.ErrorTag(logTag, "查询用户 %s 状态失败: %v", identity, err)
			return
		case standing.User == nil:
			c.logger.WarnTag(logTag, "收到用户 %s (客户端 %s) 的心跳，但用户不存在", identity, sess.ID())
			_ = c.send(ctx, sess, errorMessage{Type: TypeError, Message: msgUnknownUser})
			c.terminate(ctx, sess, CloseNormal, msgUnknownUser)
			return
		}
		if !standing.User.Banned() {
			if err := c.access.Touch(ctx, identity); err != nil {
				c.logger.WarnTag(logTag, "更新用户 %s 活跃时间失败: %v", identity, err)
			}
		}
		if standing.Blocked() {
			c.pushDisabled(ctx, sess, standing)
			return
		}
		sess.SetAccessEnabled(true)
	}

	if len(msg.ModelProviders) == 0 || sess.Privileged() {
		return
	}
	c.sweep(ctx, sess, identity, msg.ModelProviders)
}

// sweep compares the client's reported keys with the server's bindings and
// pushes a config update only when something is wrong or missing.
func (c *Coordinator) sweep(ctx context.Context, sess *session.Session, identity string, reported map[string]ReportedProvider) {
	providers, err := c.engine.ActiveProviders(ctx)
	if err != nil {
		c.logger.ErrorTag(logTag, "获取活跃供应商失败: %v", err)
		return
	}
	active := make(map[model.ProviderName]bool, len(providers))
	for _, p := range providers {
		active[p.Name] = true
	}

	seen := map[model.ProviderName]bool{}
	var wrong, missing []model.ProviderName
	for _, name := range sortedNames(reported) {
		provider, ok := model.ParseProviderName(name)
		if !ok {
			c.logger.WarnTag(logTag, "客户端 %s 上报未知供应商 %q，已忽略", sess.ID(), name)
			continue
		}
		entry := reported[name]
		if entry.APIKey == nil {
			continue
		}
		seen[provider] = true
		if !active[provider] || *entry.APIKey == model.DisabledKey {
			continue
		}
		if !c.accepts(ctx, sess, provider, *entry.APIKey, identity) {
			wrong = append(wrong, provider)
		}
	}

	bound, err := c.engine.BoundProviders(ctx, sess.ID())
	if err != nil {
		c.logger.ErrorTag(logTag, "查询客户端 %s 的分配失败: %v", sess.ID(), err)
	}
	for _, provider := range bound {
		if active[provider] && !seen[provider] {
			missing = append(missing, provider)
		}
	}

	if len(wrong) == 0 && len(missing) == 0 {
		return
	}
	c.logger.InfoTag(logTag, "客户端 %s 心跳密钥不一致 wrong=%v missing=%v", sess.ID(), wrong, missing)
	creds, err := c.engine.AllocateAll(ctx, sess.ID(), identity)
	if err != nil {
		c.logger.ErrorTag(logTag, "为客户端 %s 分配密钥失败: %v", sess.ID(), err)
	}
	if len(creds) == 0 {
		return
	}
	_ = c.send(ctx, sess, configUpdateMessage{
		Type:           TypeConfigUpdate,
		Timestamp:      stamp(c.now()),
		ModelProviders: creds,
	})
}

// accepts validates presented and, failing that, tries to adopt it before
// the caller falls back to a fresh allocation.
func (c *Coordinator) accepts(ctx context.Context, sess *session.Session, provider model.ProviderName, presented, identity string) bool {
	valid, err := c.engine.Validate(ctx, provider, sess.ID(), presented)
	if err != nil {
		c.logger.ErrorTag(logTag, "校验客户端 %s 的 %s 密钥失败: %v", sess.ID(), provider, err)
	}
	if valid {
		return true
	}
	adopted, err := c.engine.Reconcile(ctx, provider, sess.ID(), presented, identity)
	if err != nil {
		c.logger.ErrorTag(logTag, "同步客户端 %s 的 %s 密钥失败: %v", sess.ID(), provider, err)
		return false
	}
	if adopted {
		c.logger.DebugTag(logTag, "接受并同步客户端 %s 提供的 %s 密钥", sess.ID(), provider)
	}
	return adopted
}

func (c *Coordinator) onUsageReport(ctx context.Context, sess *session.Session, msg UsageReportMessage) {
	identity := msg.UserID
	if identity == "" {
		identity = sess.Identity()
	}
	if identity == "" {
		c.metrics.RecordUsageReport("rejected")
		_ = c.send(ctx, sess, usageAckMessage{Type: TypeUsageAck, Error: "user_id is required"})
		return
	}
	inc := 1
	if msg.Inc != nil {
		inc = *msg.Inc
	}

	result, err := c.access.RecordUsage(ctx, accessmodel.UsageEntry{
		UserID:    identity,
		ModelName: msg.ModelName,
		Inc:       inc,
		ClientID:  sess.ID(),
	})
	if err != nil {
		c.metrics.RecordUsageReport("error")
		c.logger.WarnTag(logTag, "处理客户端 %s 的用量上报失败: %v", sess.ID(), err)
		_ = c.send(ctx, sess, usageAckMessage{Type: TypeUsageAck, Error: err.Error()})
		return
	}
	c.metrics.RecordUsageReport("ok")
	_ = c.send(ctx, sess, usageAckMessage{
		Type:    TypeUsageAck,
		Success: true,
		Usage:   &UsagePayload{AccessPayload: *accessPayload(&result.Access), JustDisabled: result.JustExhausted},
	})

	if result.JustExhausted {
		c.DisableIdentity(ctx, identity)
	}
	c.publish(eventbus.EventUserUpdated, eventbus.UserEventData{UserID: identity, Action: "usage", Data: result.Access})
	c.PushToAdmins(ctx, PushMessage{Type: TypeUserUpdate, Data: map[string]any{
		"user_id": identity,
		"access":  accessPayload(&result.Access),
	}})
}

// pushDisabled strips the session's credentials and tells the client.
func (c *Coordinator) pushDisabled(ctx context.Context, sess *session.Session, standing *accessmodel.Standing) {
	sess.SetAccessEnabled(false)
	if _, err := c.engine.Release(ctx, sess.ID(), ""); err != nil {
		c.logger.ErrorTag(logTag, "释放客户端 %s 的密钥失败: %v", sess.ID(), err)
	}
	providers, err := c.engine.ActiveProviders(ctx)
	if err != nil {
		c.logger.ErrorTag(logTag, "获取活跃供应商失败: %v", err)
	}
	now := stamp(c.now())
	if c.send(ctx, sess, configUpdateMessage{
		Type:           TypeConfigUpdate,
		Timestamp:      now,
		ModelProviders: disabledCredentials(providers),
	}) != nil {
		return
	}
	payload := standingPayload(standing)
	if payload == nil {
		payload = &AccessPayload{Reason: accessmodel.ReasonManual}
	}
	payload.Enabled = false
	_ = c.send(ctx, sess, accessUpdateMessage{Type: TypeAccessUpdate, AccessPayload: *payload, Timestamp: now})
}

// DisableIdentity releases every credential of identity and pushes the
// disabled state to all of its sessions.
func (c *Coordinator) DisableIdentity(ctx context.Context, identity string) int {
	if _, err := c.engine.ReleaseByIdentity(ctx, identity); err != nil {
		c.logger.ErrorTag(logTag, "释放用户 %s 的密钥失败: %v", identity, err)
	}
	standing, err := c.access.Standing(ctx, identity)
	if err != nil {
		c.logger.ErrorTag(logTag, "查询用户 %s 状态失败: %v", identity, err)
		standing = nil
	}
	n := 0
	for _, sess := range c.registry.LookupByIdentity(identity) {
		if !sess.Ready() {
			continue
		}
		c.pushDisabled(ctx, sess, standing)
		n++
	}
	if n > 0 {
		c.logger.InfoTag(logTag, "已向用户 %s 的 %d 个会话推送禁用配置", identity, n)
	}
	return n
}

// RefreshIdentity re-evaluates identity after an administrative change and
// pushes the resulting config and access state to each live session.
func (c *Coordinator) RefreshIdentity(ctx context.Context, identity string) int {
	standing, err := c.access.Standing(ctx, identity)
	if err != nil {
		c.logger.ErrorTag(logTag, "查询用户 %s 状态失败: %v", identity, err)
		return 0
	}
	if standing.Blocked() {
		return c.DisableIdentity(ctx, identity)
	}
	n := 0
	for _, sess := range c.registry.LookupByIdentity(identity) {
		if !sess.Ready() || sess.Privileged() {
			continue
		}
		sess.SetAccessEnabled(true)
		creds, err := c.engine.AllocateAll(ctx, sess.ID(), identity)
		if err != nil {
			c.logger.ErrorTag(logTag, "为客户端 %s 分配密钥失败: %v", sess.ID(), err)
		}
		now := stamp(c.now())
		if len(creds) > 0 {
			if c.send(ctx, sess, configUpdateMessage{Type: TypeConfigUpdate, Timestamp: now, ModelProviders: creds}) != nil {
				continue
			}
		}
		if payload := standingPayload(standing); payload != nil {
			_ = c.send(ctx, sess, accessUpdateMessage{Type: TypeAccessUpdate, AccessPayload: *payload, Timestamp: now})
		}
		n++
	}
	return n
}

func sortedNames(m map[string]ReportedProvider) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
