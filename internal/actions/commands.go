package actions

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dalnet/ircbot/internal/irc"
	"github.com/dalnet/ircbot/internal/logger"
	"github.com/dalnet/ircbot/internal/storage"
)

// Bot is the part of the IRC client that built-in commands use.
type Bot interface {
	Nick() string
	Channels() []string
	Channel(name string) (*irc.Channel, bool)
	Rank(channel, nick string) string
	Server() irc.ServerInfo
	Notice(target, text string) error
	CTCPReply(target, command, text string) error
}

// Commands answers prefixed commands and CTCP requests.
type Commands struct {
	bot     Bot
	prefix  string
	journal *storage.Journal
	log     logger.Logger
}

// RegisterCommands registers the built-in commands on r. journal may be
// nil to skip recording commands.
func RegisterCommands(r *Registry, bot Bot, prefix string, journal *storage.Journal, log logger.Logger) *Commands {
	c := &Commands{
		bot:     bot,
		prefix:  prefix,
		journal: journal,
		log:     log.Named("commands"),
	}
	r.On(irc.EventChannelMessage, "commands", 0, c.onMessage)
	r.On(irc.EventUserMessage, "commands", 0, c.onMessage)
	r.On(irc.EventChannelCTCP, "ctcp", 0, c.onCTCP)
	r.On(irc.EventUserCTCP, "ctcp", 0, c.onCTCP)
	return c
}

func (c *Commands) onMessage(ev irc.Event) {
	text := strings.TrimSpace(ev.Text)
	if !strings.HasPrefix(text, c.prefix) {
		return
	}
	args := strings.Fields(strings.TrimPrefix(text, c.prefix))
	if len(args) == 0 {
		return
	}

	switch strings.ToLower(args[0]) {
	case "help":
		c.cmdHelp(ev)
	case "version":
		c.cmdVersion(ev)
	case "rank":
		c.cmdRank(ev, args[1:])
	case "channels":
		c.cmdChannels(ev)
	case "history":
		c.cmdHistory(ev, args[1:])
	default:
		return
	}
	c.record(ev, text)
}

func (c *Commands) reply(ev irc.Event, text string) {
	if err := c.bot.Notice(ev.Nick, text); err != nil {
		c.log.Warn("reply failed", "nick", ev.Nick, "error", err.Error())
	}
}

func (c *Commands) cmdHelp(ev irc.Event) {
	p := c.prefix
	c.reply(ev, "Available commands:")
	c.reply(ev, p+"version - displays bot version information")
	c.reply(ev, p+"rank [#channel] [nick] - shows the ranks a user holds in a channel")
	c.reply(ev, p+"channels - lists the channels I am in")
	c.reply(ev, p+"history [number] - displays the last commands I was given")
}

func (c *Commands) cmdVersion(ev irc.Event) {
	c.reply(ev, fmt.Sprintf("ircbot version %s", irc.Version))
	c.reply(ev, fmt.Sprintf("Built: %s", irc.BuildDate))
	c.reply(ev, fmt.Sprintf("Commit: %s", irc.GitCommit))
}

func (c *Commands) cmdRank(ev irc.Event, args []string) {
	server := c.bot.Server()

	channel := ev.Channel
	if len(args) > 0 && server.IsChannel(args[0]) {
		channel, args = args[0], args[1:]
	}
	if channel == "" {
		c.reply(ev, "Usage: "+c.prefix+"rank <#channel> [nick]")
		return
	}
	nick := ev.Nick
	if len(args) > 0 {
		nick = args[0]
	}

	ch, ok := c.bot.Channel(channel)
	if !ok {
		c.reply(ev, fmt.Sprintf("I am not in %s", channel))
		return
	}
	if !ch.HasMember(server.Fold(nick)) {
		c.reply(ev, fmt.Sprintf("%s is not in %s", nick, ch.Name))
		return
	}

	ranks := c.bot.Rank(channel, nick)
	if ranks == "" {
		c.reply(ev, fmt.Sprintf("%s has no rank in %s", nick, ch.Name))
		return
	}
	var symbols strings.Builder
	for _, letter := range ranks {
		if sym, ok := server.StatusModes[letter]; ok {
			symbols.WriteRune(sym)
		}
	}
	c.reply(ev, fmt.Sprintf("%s has %s (+%s) in %s", nick, symbols.String(), ranks, ch.Name))
}

func (c *Commands) cmdChannels(ev irc.Event) {
	names := c.bot.Channels()
	if len(names) == 0 {
		c.reply(ev, "I am not in any channels")
		return
	}
	parts := make([]string, 0, len(names))
	for _, name := range names {
		if ch, ok := c.bot.Channel(name); ok {
			parts = append(parts, fmt.Sprintf("%s (%d)", ch.Name, len(ch.Users)))
		}
	}
	c.reply(ev, fmt.Sprintf("I am in %d channels: %s", len(parts), strings.Join(parts, ", ")))
}

func (c *Commands) cmdHistory(ev irc.Event, args []string) {
	if c.journal == nil {
		c.reply(ev, "Command history is disabled")
		return
	}
	count := 10
	if len(args) > 0 {
		if n, err := strconv.Atoi(args[0]); err == nil && n > 0 {
			count = n
		}
	}

	entries := c.journal.Recent(count)
	c.reply(ev, fmt.Sprintf("The last \x02%d\x02 commands:", len(entries)))
	for _, entry := range entries {
		c.reply(ev, entry)
	}
}

// record appends the command to the journal.
func (c *Commands) record(ev irc.Event, text string) {
	if c.journal == nil {
		return
	}
	source := ev.Nick
	if ev.User != nil && ev.User.Host != "" {
		source = ev.User.Hostmask()
	}
	timestamp := time.Now().UTC().Format("Mon Jan 02, 2006 at 15:04:05 GMT")
	entry := fmt.Sprintf("%s: %s -> %s", timestamp, source, text)
	if err := c.journal.Add(entry); err != nil {
		c.log.Error("could not save command history", err)
	}
}

func (c *Commands) onCTCP(ev irc.Event) {
	command, arg, _ := strings.Cut(ev.Text, " ")
	var err error
	switch strings.ToUpper(command) {
	case "VERSION":
		reply := fmt.Sprintf("ircbot %s (built %s, commit %s)", irc.Version, irc.BuildDate, irc.GitCommit)
		err = c.bot.CTCPReply(ev.Nick, "VERSION", reply)
	case "PING":
		err = c.bot.CTCPReply(ev.Nick, "PING", arg)
	case "TIME":
		err = c.bot.CTCPReply(ev.Nick, "TIME", time.Now().Format(time.RFC1123Z))
	default:
		return
	}
	if err != nil {
		c.log.Warn("CTCP reply failed", "nick", ev.Nick, "error", err.Error())
	}
}
