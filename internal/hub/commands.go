package hub

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/emberlight/realtime-backend/internal/session"
	"github.com/emberlight/realtime-backend/internal/storage"
	"github.com/emberlight/realtime-backend/internal/wire"
	"github.com/emberlight/realtime-backend/pkg/protocol"
)

// Command handlers are the server-validated paths behind the broadcast
// opcode. They own the storage keys clients may not write directly (guild
// rosters, mail, social graph), so every mutation is checked here instead of
// trusting the payload.

type commandHandler func(h *Hub, sess *session.Session, code string, args []any)

var commandRoutes = []struct {
	prefix  string
	handler commandHandler
}{
	{protocol.PrefixGuild, (*Hub).handleGuildCommand},
	{protocol.PrefixMail, (*Hub).handleMailCommand},
	{protocol.PrefixFriends, (*Hub).handleFriendsCommand},
	{protocol.PrefixSocial, (*Hub).handleSocialCommand},
	{protocol.PrefixBlocks, (*Hub).handleBlocksCommand},
	{protocol.PrefixPresence, (*Hub).handlePresenceCommand},
	{protocol.PrefixReward, (*Hub).handleRewardCommand},
}

func commandFor(code string) commandHandler {
	for _, r := range commandRoutes {
		if strings.HasPrefix(code, r.prefix) {
			return r.handler
		}
	}
	return nil
}

const (
	maxGuildNameLen = 30
	maxMailbox      = 100
	maxMailBodyLen  = 2000
	maxFriends      = 200
	rewardGold      = 100
)

// reply sends a server-originated command result back to the sender.
func (h *Hub) reply(sess *session.Session, group, code string, args ...any) {
	h.send(sess, wire.Recv{
		Group:    group,
		FromUser: protocol.FromServer,
		Code:     code,
		Args:     args,
	})
}

// Guild state lives in two server-owned global keys plus one personal key:
//
//	guild      global: guildID → {name, leader, members []userID}
//	guildIndex global: name → guildID
//	memberOf   personal: guildID ("" or missing when guildless)
func (h *Hub) handleGuildCommand(sess *session.Session, code string, args []any) {
	switch code {
	case "g/create":
		name, ok := stringArg(args, 0)
		name = strings.TrimSpace(name)
		if !ok || name == "" || len(name) > maxGuildNameLen {
			h.reply(sess, protocol.GroupGuild, "g/error", "invalid_name")
			return
		}
		if h.memberOf(sess.UserID()) != "" {
			h.reply(sess, protocol.GroupGuild, "g/error", "already_in_guild")
			return
		}
		index := h.globalMap("guildIndex")
		if _, taken := index[name]; taken {
			h.reply(sess, protocol.GroupGuild, "g/error", "name_taken")
			return
		}

		id := uuid.New().String()
		guilds := h.globalMap("guild")
		guilds[id] = map[string]any{
			"name":    name,
			"leader":  sess.UserID(),
			"members": []any{sess.UserID()},
		}
		index[name] = id
		if err := h.store.SetGlobal("guild", guilds, protocol.FromServer); err != nil {
			h.log.Error("guild write failed", zap.Error(err))
			return
		}
		if err := h.store.SetGlobal("guildIndex", index, protocol.FromServer); err != nil {
			h.log.Error("guild index write failed", zap.Error(err))
			return
		}
		if err := h.store.SetPersonal(sess.UserID(), "memberOf", id); err != nil {
			h.log.Error("memberOf write failed", zap.Error(err))
			return
		}
		h.log.Info("guild created",
			zap.String("guild", id), zap.String("name", name), zap.String("leader", sess.UserID()))
		h.reply(sess, protocol.GroupGuild, "g/created", id, name)

	case "g/join":
		id, ok := stringArg(args, 0)
		if !ok || id == "" {
			h.reply(sess, protocol.GroupGuild, "g/error", "invalid_guild")
			return
		}
		if h.memberOf(sess.UserID()) != "" {
			h.reply(sess, protocol.GroupGuild, "g/error", "already_in_guild")
			return
		}
		guilds := h.globalMap("guild")
		g, ok := guilds[id].(map[string]any)
		if !ok {
			h.reply(sess, protocol.GroupGuild, "g/error", "no_such_guild")
			return
		}
		members, _ := g["members"].([]any)
		g["members"] = appendUnique(members, sess.UserID())
		guilds[id] = g
		if err := h.store.SetGlobal("guild", guilds, protocol.FromServer); err != nil {
			h.log.Error("guild write failed", zap.Error(err))
			return
		}
		if err := h.store.SetPersonal(sess.UserID(), "memberOf", id); err != nil {
			h.log.Error("memberOf write failed", zap.Error(err))
			return
		}
		// Guildmates subscribed to the guild channel see the arrival.
		h.publish(protocol.GroupGuild, id, wire.Recv{
			Group:    protocol.GroupGuild,
			FromUser: sess.UserID(),
			Code:     "g/joined",
			Args:     []any{sess.Username()},
		}, sess)
		h.reply(sess, protocol.GroupGuild, "g/joined", id)

	case "g/leave":
		id := h.memberOf(sess.UserID())
		if id == "" {
			h.reply(sess, protocol.GroupGuild, "g/error", "not_in_guild")
			return
		}
		guilds := h.globalMap("guild")
		if g, ok := guilds[id].(map[string]any); ok {
			members, _ := g["members"].([]any)
			g["members"] = removeString(members, sess.UserID())
			guilds[id] = g
			if err := h.store.SetGlobal("guild", guilds, protocol.FromServer); err != nil {
				h.log.Error("guild write failed", zap.Error(err))
				return
			}
		}
		if err := h.store.SetPersonal(sess.UserID(), "memberOf", ""); err != nil {
			h.log.Error("memberOf write failed", zap.Error(err))
			return
		}
		h.publish(protocol.GroupGuild, id, wire.Recv{
			Group:    protocol.GroupGuild,
			FromUser: sess.UserID(),
			Code:     "g/left",
			Args:     []any{sess.Username()},
		}, sess)
		h.reply(sess, protocol.GroupGuild, "g/left", id)

	case "g/info":
		id, ok := stringArg(args, 0)
		if !ok || id == "" {
			id = h.memberOf(sess.UserID())
		}
		g, ok := h.globalMap("guild")[id].(map[string]any)
		if !ok {
			h.reply(sess, protocol.GroupGuild, "g/error", "no_such_guild")
			return
		}
		h.reply(sess, protocol.GroupGuild, "g/info", id, g)

	default:
		h.reply(sess, protocol.GroupGuild, "g/error", "unknown_command")
	}
}

// Mail is a personal append-only box, capped at maxMailbox; delivery to an
// online recipient also raises a push notification.
func (h *Hub) handleMailCommand(sess *session.Session, code string, args []any) {
	switch code {
	case "m/send":
		to, okTo := stringArg(args, 0)
		subject, okSub := stringArg(args, 1)
		body, okBody := stringArg(args, 2)
		if !okTo || to == "" || !okSub || !okBody || len(body) > maxMailBodyLen {
			h.reply(sess, protocol.GroupMail, "m/error", "invalid_mail")
			return
		}
		if h.isBlocked(to, sess.UserID()) {
			// Indistinguishable from success; blocks must not leak.
			h.reply(sess, protocol.GroupMail, "m/sent", to)
			return
		}
		box := h.personalList(to, "mail")
		box = append(box, map[string]any{
			"from":    sess.UserID(),
			"subject": subject,
			"body":    body,
			"at":      time.Now().UnixMilli(),
		})
		if len(box) > maxMailbox {
			box = box[len(box)-maxMailbox:]
		}
		if err := h.store.SetPersonal(to, "mail", box); err != nil {
			h.log.Error("mail write failed", zap.String("to", to), zap.Error(err))
			return
		}
		h.sendToUser(to, wire.Recv{
			Group:    protocol.GroupMail,
			FromUser: sess.UserID(),
			Code:     "m/new",
			Args:     []any{subject},
		})
		h.reply(sess, protocol.GroupMail, "m/sent", to)

	case "m/list":
		h.reply(sess, protocol.GroupMail, "m/list", h.personalList(sess.UserID(), "mail")...)

	case "m/clear":
		if err := h.store.SetPersonal(sess.UserID(), "mail", []any{}); err != nil {
			h.log.Error("mail clear failed", zap.Error(err))
			return
		}
		h.reply(sess, protocol.GroupMail, "m/cleared")

	default:
		h.reply(sess, protocol.GroupMail, "m/error", "unknown_command")
	}
}

func (h *Hub) handleFriendsCommand(sess *session.Session, code string, args []any) {
	target, ok := stringArg(args, 0)
	if !ok || target == "" || target == sess.UserID() {
		h.reply(sess, protocol.GroupSocial, "f/error", "invalid_user")
		return
	}
	social := h.personalMap(sess.UserID(), "social")
	friends, _ := social["friends"].([]any)

	switch code {
	case "f/add":
		if len(friends) >= maxFriends {
			h.reply(sess, protocol.GroupSocial, "f/error", "friend_list_full")
			return
		}
		social["friends"] = appendUnique(friends, target)
	case "f/remove":
		social["friends"] = removeString(friends, target)
	default:
		h.reply(sess, protocol.GroupSocial, "f/error", "unknown_command")
		return
	}

	if err := h.store.SetPersonal(sess.UserID(), "social", social); err != nil {
		h.log.Error("social write failed", zap.Error(err))
		return
	}
	h.reply(sess, protocol.GroupSocial, code+"/ok", target)
}

func (h *Hub) handleBlocksCommand(sess *session.Session, code string, args []any) {
	target, ok := stringArg(args, 0)
	if !ok || target == "" || target == sess.UserID() {
		h.reply(sess, protocol.GroupSocial, "b/error", "invalid_user")
		return
	}
	social := h.personalMap(sess.UserID(), "social")
	blocks, _ := social["blocks"].([]any)

	switch code {
	case "b/add":
		social["blocks"] = appendUnique(blocks, target)
		// Blocking also severs the friendship, both directions of intent.
		if friends, ok := social["friends"].([]any); ok {
			social["friends"] = removeString(friends, target)
		}
	case "b/remove":
		social["blocks"] = removeString(blocks, target)
	default:
		h.reply(sess, protocol.GroupSocial, "b/error", "unknown_command")
		return
	}

	if err := h.store.SetPersonal(sess.UserID(), "social", social); err != nil {
		h.log.Error("social write failed", zap.Error(err))
		return
	}
	h.reply(sess, protocol.GroupSocial, code+"/ok", target)
}

func (h *Hub) handleSocialCommand(sess *session.Session, code string, args []any) {
	switch code {
	case "s/get":
		h.reply(sess, protocol.GroupSocial, "s/data", h.personalMap(sess.UserID(), "social"))
	default:
		h.reply(sess, protocol.GroupSocial, "s/error", "unknown_command")
	}
}

// Presence answers "where is this player" from live hub state only; nothing
// here touches storage.
func (h *Hub) handlePresenceCommand(sess *session.Session, code string, args []any) {
	switch code {
	case "u/where":
		target, ok := stringArg(args, 0)
		if !ok || target == "" {
			h.reply(sess, protocol.GroupUsers, "u/error", "invalid_user")
			return
		}
		other, online := h.sessions[target]
		if !online {
			h.reply(sess, protocol.GroupUsers, "u/where", target, false, "")
			return
		}
		h.reply(sess, protocol.GroupUsers, "u/where", target, true,
			h.registry.Channel(other, protocol.GroupMap))
	default:
		h.reply(sess, protocol.GroupUsers, "u/error", "unknown_command")
	}
}

// Rewards are claim-once grants keyed by reward id. The grant amount is
// decided here, never taken from the payload.
func (h *Hub) handleRewardCommand(sess *session.Session, code string, args []any) {
	if code != "reward/claim" {
		h.reply(sess, protocol.GroupUsers, "reward/error", "unknown_command")
		return
	}
	id, ok := stringArg(args, 0)
	if !ok || id == "" {
		h.reply(sess, protocol.GroupUsers, "reward/error", "invalid_reward")
		return
	}

	claims := h.personalMap(sess.UserID(), "rewardClaims")
	if _, claimed := claims[id]; claimed {
		h.reply(sess, protocol.GroupUsers, "reward/denied", id, "already_claimed")
		return
	}

	inv, err := storage.LoadInventory(h.store, sess.UserID())
	if err != nil {
		h.log.Error("reward inventory read failed", zap.String("user", sess.UserID()), zap.Error(err))
		return
	}
	inv.Gold += rewardGold
	if err := storage.SaveInventory(h.store, sess.UserID(), inv); err != nil {
		h.log.Error("reward grant failed", zap.String("user", sess.UserID()), zap.Error(err))
		return
	}
	claims[id] = time.Now().UnixMilli()
	if err := h.store.SetPersonal(sess.UserID(), "rewardClaims", claims); err != nil {
		h.log.Error("reward claim write failed", zap.String("user", sess.UserID()), zap.Error(err))
		return
	}
	h.log.Info("reward claimed",
		zap.String("user", sess.UserID()), zap.String("reward", id))
	h.reply(sess, protocol.GroupUsers, "reward/granted", id, int64(rewardGold))
}

// memberOf reads the caller's guild id; missing or non-string means none.
func (h *Hub) memberOf(userID string) string {
	v, err := h.store.GetPersonal(userID, "memberOf")
	if err != nil {
		return ""
	}
	id, _ := v.(string)
	return id
}

func appendUnique(list []any, s string) []any {
	for _, v := range list {
		if existing, ok := v.(string); ok && existing == s {
			return list
		}
	}
	return append(list, s)
}

func removeString(list []any, s string) []any {
	out := list[:0]
	for _, v := range list {
		if existing, ok := v.(string); ok && existing == s {
			continue
		}
		out = append(out, v)
	}
	return out
}
