// Package discord implements the platform collaborators over the Discord
// REST API. It does not open a gateway connection.
package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/time/rate"

	"github.com/terraconstructs/rolewarden/internal/platform"
)

const (
	colorNotice = 0xE67E22 // orange
	colorLog    = 0x3498DB // blue
)

// restAPI is the subset of *discordgo.Session used by Client.
type restAPI interface {
	GuildMemberRoleRemove(guildID, userID, roleID string, options ...discordgo.RequestOption) error
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
	GuildRoles(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Role, error)
}

// Client implements platform.RoleMutator, platform.Notifier and
// platform.RoleDirectory for one guild.
type Client struct {
	api     restAPI
	guildID string
	limiter *rate.Limiter
	now     func() time.Time
}

var (
	_ platform.RoleMutator   = (*Client)(nil)
	_ platform.Notifier      = (*Client)(nil)
	_ platform.RoleDirectory = (*Client)(nil)
)

// New creates a client authenticated with a bot token. requestsPerSecond
// paces all outbound calls; zero or less disables pacing.
func New(token, guildID string, requestsPerSecond float64) (*Client, error) {
	if token == "" {
		return nil, fmt.Errorf("discord: token is required")
	}
	if guildID == "" {
		return nil, fmt.Errorf("discord: guild id is required")
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	// Retries are decided by the coordinator, not the SDK.
	session.MaxRestRetries = 0
	session.ShouldRetryOnRateLimit = false

	return newClient(session, guildID, requestsPerSecond), nil
}

func newClient(api restAPI, guildID string, requestsPerSecond float64) *Client {
	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}
	return &Client{
		api:     api,
		guildID: guildID,
		limiter: rate.NewLimiter(limit, 1),
		now:     time.Now,
	}
}

func (c *Client) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate limiter: %v", platform.ErrTransport, err)
	}
	return nil
}

// RemoveRoles removes each role with its own call so every removal is
// individually confirmed. A permission failure stops the batch; transport
// failures are collected and the remaining roles are still attempted.
func (c *Client) RemoveRoles(ctx context.Context, member platform.MemberID, roles []platform.RoleID, reason string) ([]platform.RoleID, error) {
	var removed []platform.RoleID
	var errs []error

	for _, role := range roles {
		if err := c.wait(ctx); err != nil {
			errs = append(errs, err)
			break
		}
		err := c.api.GuildMemberRoleRemove(c.guildID, member.String(), role.String(),
			discordgo.WithContext(ctx),
			discordgo.WithAuditLogReason(reason),
		)
		if err == nil || isStatus(err, http.StatusNotFound) {
			removed = append(removed, role)
			continue
		}
		err = classifyMutation(err)
		errs = append(errs, fmt.Errorf("remove role %s: %w", role, err))
		if errors.Is(err, platform.ErrPermissionDenied) {
			break
		}
	}
	return removed, errors.Join(errs...)
}

// DirectMessage opens a DM channel with the member and sends the notice.
func (c *Client) DirectMessage(ctx context.Context, member platform.MemberID, notice platform.DirectNotice) error {
	if err := c.wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", platform.ErrUnreachable, err)
	}
	ch, err := c.api.UserChannelCreate(member.String(), discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("%w: open DM channel: %v", platform.ErrUnreachable, err)
	}

	embed := &discordgo.MessageEmbed{
		Title:       notice.Title,
		Description: notice.Reason,
		Color:       colorNotice,
		Timestamp:   c.now().UTC().Format(time.RFC3339),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Removed Role", Value: joinOrDash(notice.RemovedRoles), Inline: false},
		},
	}
	if notice.RetainedRole != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "New Role", Value: notice.RetainedRole})
	}

	if err := c.wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", platform.ErrUnreachable, err)
	}
	if _, err := c.api.ChannelMessageSendEmbed(ch.ID, embed, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("%w: send DM: %v", platform.ErrUnreachable, err)
	}
	return nil
}

// PostLog posts the entry to the moderator log channel.
func (c *Client) PostLog(ctx context.Context, channel platform.ChannelID, entry platform.LogEntry) error {
	embed := &discordgo.MessageEmbed{
		Title:       entry.Title,
		Description: entry.ActorMention,
		Color:       colorLog,
		Timestamp:   c.now().UTC().Format(time.RFC3339),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Removed Role", Value: joinOrDash(entry.RemovedRoleMentions)},
		},
	}
	if entry.RetainedRoleMention != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Kept Role", Value: entry.RetainedRoleMention})
	}
	if entry.RuleViolated != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Rule", Value: entry.RuleViolated})
	}

	if err := c.wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", platform.ErrDeliveryFailed, err)
	}
	if _, err := c.api.ChannelMessageSendEmbed(channel.String(), embed, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("%w: %v", platform.ErrDeliveryFailed, err)
	}
	return nil
}

// RoleName looks the role up in the guild role list.
func (c *Client) RoleName(ctx context.Context, role platform.RoleID) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", err
	}
	roles, err := c.api.GuildRoles(c.guildID, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("%w: list guild roles: %v", platform.ErrTransport, err)
	}
	id := role.String()
	for _, r := range roles {
		if r.ID == id {
			return r.Name, nil
		}
	}
	return "", fmt.Errorf("role %s not found in guild %s", role, c.guildID)
}

func classifyMutation(err error) error {
	if isStatus(err, http.StatusForbidden) || isStatus(err, http.StatusUnauthorized) {
		return fmt.Errorf("%w: %v", platform.ErrPermissionDenied, err)
	}
	return fmt.Errorf("%w: %v", platform.ErrTransport, err)
}

func isStatus(err error, code int) bool {
	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Response != nil {
		return rest.Response.StatusCode == code
	}
	return false
}

func joinOrDash(values []string) string {
	if len(values) == 0 {
		return "-"
	}
	return strings.Join(values, ", ")
}
