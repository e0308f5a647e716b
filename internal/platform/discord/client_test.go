package discord

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terraconstructs/rolewarden/internal/platform"
)

type removeCall struct {
	guild, user, role string
}

type fakeAPI struct {
	removeErrs map[string]error // by role id
	removes    []removeCall

	channelErr error
	sendErr    error
	sent       map[string]*discordgo.MessageEmbed // by channel id

	roles    []*discordgo.Role
	rolesErr error
}

func (f *fakeAPI) GuildMemberRoleRemove(guildID, userID, roleID string, _ ...discordgo.RequestOption) error {
	f.removes = append(f.removes, removeCall{guildID, userID, roleID})
	return f.removeErrs[roleID]
}

func (f *fakeAPI) UserChannelCreate(recipientID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	if f.channelErr != nil {
		return nil, f.channelErr
	}
	return &discordgo.Channel{ID: "dm-" + recipientID}, nil
}

func (f *fakeAPI) ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	if f.sent == nil {
		f.sent = make(map[string]*discordgo.MessageEmbed)
	}
	f.sent[channelID] = embed
	return &discordgo.Message{ChannelID: channelID}, nil
}

func (f *fakeAPI) GuildRoles(_ string, _ ...discordgo.RequestOption) ([]*discordgo.Role, error) {
	return f.roles, f.rolesErr
}

func restError(status int) error {
	return &discordgo.RESTError{Response: &http.Response{StatusCode: status, Status: http.StatusText(status)}}
}

func newTestClient(api restAPI) *Client {
	c := newClient(api, "guild-1", 0)
	c.now = func() time.Time { return time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC) }
	return c
}

func TestNew_RequiresCredentials(t *testing.T) {
	_, err := New("", "1", 5)
	assert.Error(t, err)
	_, err = New("token", "", 5)
	assert.Error(t, err)
}

func TestRemoveRoles(t *testing.T) {
	ctx := context.Background()

	t.Run("all confirmed", func(t *testing.T) {
		api := &fakeAPI{}
		removed, err := newTestClient(api).RemoveRoles(ctx, 7, []platform.RoleID{5, 6}, "Only one role from group allowed")
		require.NoError(t, err)
		assert.Equal(t, []platform.RoleID{5, 6}, removed)
		assert.Equal(t, []removeCall{{"guild-1", "7", "5"}, {"guild-1", "7", "6"}}, api.removes)
	})

	t.Run("unknown role counts as removed", func(t *testing.T) {
		api := &fakeAPI{removeErrs: map[string]error{"5": restError(http.StatusNotFound)}}
		removed, err := newTestClient(api).RemoveRoles(ctx, 7, []platform.RoleID{5}, "r")
		require.NoError(t, err)
		assert.Equal(t, []platform.RoleID{5}, removed)
	})

	t.Run("permission denied stops the batch", func(t *testing.T) {
		api := &fakeAPI{removeErrs: map[string]error{"6": restError(http.StatusForbidden)}}
		removed, err := newTestClient(api).RemoveRoles(ctx, 7, []platform.RoleID{5, 6, 8}, "r")
		require.Error(t, err)
		assert.ErrorIs(t, err, platform.ErrPermissionDenied)
		assert.False(t, platform.IsRetryable(err))
		assert.Equal(t, []platform.RoleID{5}, removed)
		assert.Len(t, api.removes, 2, "role 8 is not attempted")
	})

	t.Run("transport failure continues with remaining roles", func(t *testing.T) {
		api := &fakeAPI{removeErrs: map[string]error{"5": restError(http.StatusBadGateway)}}
		removed, err := newTestClient(api).RemoveRoles(ctx, 7, []platform.RoleID{5, 6}, "r")
		require.Error(t, err)
		assert.ErrorIs(t, err, platform.ErrTransport)
		assert.True(t, platform.IsRetryable(err))
		assert.Equal(t, []platform.RoleID{6}, removed)
	})

	t.Run("non REST error is transport", func(t *testing.T) {
		api := &fakeAPI{removeErrs: map[string]error{"5": errors.New("connection reset")}}
		_, err := newTestClient(api).RemoveRoles(ctx, 7, []platform.RoleID{5}, "r")
		assert.ErrorIs(t, err, platform.ErrTransport)
	})
}

func TestDirectMessage(t *testing.T) {
	ctx := context.Background()
	notice := platform.DirectNotice{
		Title:        "Your Rank Roles were re-assigned",
		Reason:       "You can only have one Rank Role.",
		RemovedRoles: []string{"Bronze"},
		RetainedRole: "Silver",
	}

	t.Run("sends embed to DM channel", func(t *testing.T) {
		api := &fakeAPI{}
		require.NoError(t, newTestClient(api).DirectMessage(ctx, 7, notice))

		embed := api.sent["dm-7"]
		require.NotNil(t, embed)
		assert.Equal(t, notice.Title, embed.Title)
		assert.Equal(t, notice.Reason, embed.Description)
		assert.Equal(t, colorNotice, embed.Color)
		assert.Equal(t, "2026-10-19T09:00:00Z", embed.Timestamp)
		require.Len(t, embed.Fields, 2)
		assert.Equal(t, "Removed Role", embed.Fields[0].Name)
		assert.Equal(t, "Bronze", embed.Fields[0].Value)
		assert.Equal(t, "New Role", embed.Fields[1].Name)
		assert.Equal(t, "Silver", embed.Fields[1].Value)
	})

	t.Run("closed DMs are unreachable", func(t *testing.T) {
		api := &fakeAPI{channelErr: restError(http.StatusForbidden)}
		err := newTestClient(api).DirectMessage(ctx, 7, notice)
		assert.ErrorIs(t, err, platform.ErrUnreachable)
	})

	t.Run("send failure is unreachable", func(t *testing.T) {
		api := &fakeAPI{sendErr: restError(http.StatusForbidden)}
		err := newTestClient(api).DirectMessage(ctx, 7, notice)
		assert.ErrorIs(t, err, platform.ErrUnreachable)
	})
}

func TestPostLog(t *testing.T) {
	ctx := context.Background()
	entry := platform.LogEntry{
		Title:               "Rank Role Changelog",
		ActorMention:        "<@7>",
		RemovedRoleMentions: []string{"<@&5>"},
		RetainedRoleMention: "<@&10>",
		RuleViolated:        "exclusive group rank",
	}

	t.Run("posts embed to log channel", func(t *testing.T) {
		api := &fakeAPI{}
		require.NoError(t, newTestClient(api).PostLog(ctx, 555, entry))

		embed := api.sent["555"]
		require.NotNil(t, embed)
		assert.Equal(t, "Rank Role Changelog", embed.Title)
		assert.Equal(t, "<@7>", embed.Description)
		assert.Equal(t, colorLog, embed.Color)
		require.Len(t, embed.Fields, 3)
		assert.Equal(t, "<@&5>", embed.Fields[0].Value)
		assert.Equal(t, "Kept Role", embed.Fields[1].Name)
		assert.Equal(t, "exclusive group rank", embed.Fields[2].Value)
	})

	t.Run("failure is delivery failed", func(t *testing.T) {
		api := &fakeAPI{sendErr: errors.New("boom")}
		err := newTestClient(api).PostLog(ctx, 555, entry)
		assert.ErrorIs(t, err, platform.ErrDeliveryFailed)
	})
}

func TestRoleName(t *testing.T) {
	api := &fakeAPI{roles: []*discordgo.Role{{ID: "10", Name: "Bronze"}, {ID: "20", Name: "Silver"}}}
	c := newTestClient(api)

	name, err := c.RoleName(context.Background(), 20)
	require.NoError(t, err)
	assert.Equal(t, "Silver", name)

	_, err = c.RoleName(context.Background(), 30)
	assert.Error(t, err)

	api.rolesErr = errors.New("boom")
	_, err = c.RoleName(context.Background(), 10)
	assert.ErrorIs(t, err, platform.ErrTransport)
}
