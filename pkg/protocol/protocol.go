// Package protocol holds the channel-group names and command codes shared
// between the server and any Go client. The binary framing itself lives in
// internal/wire; these are the string identifiers carried inside frames.
package protocol

// Channel groups. A connection holds at most one channel per group.
const (
	GroupMap    = "map"
	GroupParty  = "party"
	GroupGuild  = "guild"
	GroupBattle = "battle"
	GroupTrade  = "trade"
	GroupUsers  = "users"
	GroupMail   = "mail"
	GroupSocial = "social"
)

// Command-code prefixes routed by the dispatcher.
const (
	PrefixGuild    = "g/"
	PrefixMail     = "m/"
	PrefixFriends  = "f/"
	PrefixSocial   = "s/"
	PrefixBlocks   = "b/"
	PrefixPresence = "u/"
	PrefixReward   = "reward/"
	PrefixBattle   = "btl/"
)

// Trade codes, sent via Publish to the trade group.
const (
	CodeTradeUpdate   = "tradeUpdate"
	CodeTradeReady    = "tradeReady"
	CodeTradeJoin     = "tradeJoin"
	CodeTradeReject   = "tradeReject"
	CodeTradeComplete = "tradeComplete"
	CodeTradeFail     = "tradeFail"
)

// Battle codes, sent via Publish to the battle group.
const (
	CodeBattleJoined     = "btl/joined"
	CodeBattleMove       = "btl/move"
	CodeBattleAction     = "btl/action"
	CodeBattleGuard      = "btl/guard"
	CodeBattleEnd        = "btl/end"
	CodeBattleAck        = "btl/ack"
	CodeBattleReject     = "btl/reject"
	CodeBattleCorrection = "btl/correction"
)

// Synthetic presence codes emitted by the dispatcher on channel changes.
const (
	CodePlayerJoined = "u/join"
	CodePlayerLeft   = "u/leave"
	CodeMembers      = "u/members"
	CodeAnnounce     = "announce"
)

// FromServer is the sender id used on server-originated Recv messages.
const FromServer = "server"
