package discordutils

import (
	"strings"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// MemberHasAdminPermissions returns true if the given member has admin permissions.
func MemberHasAdminPermissions(guild *discordgo.Guild, member *discordgo.Member) bool {
	if member.Permissions&discordgo.PermissionAdministrator != 0 {
		return true
	}
	if guild == nil {
		return false
	}
	if member.User != nil && guild.OwnerID == member.User.ID {
		return true
	}

	for _, role := range memberRoles(guild, member) {
		if RoleAllowsAdminPermissions(role) {
			return true
		}
	}

	return false
}

// RoleAllowsAdminPermissions returns true if the given role allows admin permissions.
func RoleAllowsAdminPermissions(role *discordgo.Role) bool {
	return role.Permissions&discordgo.PermissionAdministrator > 0
}

// MemberHasRoleNamed returns true if the member has a role called name,
// ignoring case.
func MemberHasRoleNamed(guild *discordgo.Guild, member *discordgo.Member, name string) bool {
	if guild == nil || name == "" {
		return false
	}
	for _, role := range memberRoles(guild, member) {
		if strings.EqualFold(role.Name, name) {
			return true
		}
	}
	return false
}

// MemberIsBirthdayAdmin returns true if the member may use the admin
// commands: the bot owner, anyone with admin permissions, or anyone holding
// the admin role.
func MemberIsBirthdayAdmin(
	guild *discordgo.Guild,
	member *discordgo.Member,
	adminRole string,
	ownerID string,
) bool {
	if member == nil {
		return false
	}
	if ownerID != "" && member.User != nil && member.User.ID == ownerID {
		return true
	}
	return MemberHasAdminPermissions(guild, member) ||
		MemberHasRoleNamed(guild, member, adminRole)
}

func memberRoles(guild *discordgo.Guild, member *discordgo.Member) []*discordgo.Role {
	guildRoles := make(map[string]*discordgo.Role)
	for _, role := range guild.Roles {
		guildRoles[role.ID] = role
	}

	var roles []*discordgo.Role
	for _, roleID := range member.Roles {
		if role, ok := guildRoles[roleID]; ok {
			roles = append(roles, role)
		}
	}
	return roles
}

// AckInteraction sends a deferred response for the given interaction.
func AckInteraction(
	interaction *discordgo.Interaction,
	session *discordgo.Session,
	log *zap.Logger,
) {
	err := session.InteractionRespond(interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Flags: discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		log.Warn("Failed to acknowledge interaction", zap.String("interaction_id", interaction.ID), zap.Error(err))
	}
}

// SendFollowup creates a followup message with the given content.
func SendFollowup(
	content string,
	interaction *discordgo.Interaction,
	session *discordgo.Session,
	log *zap.Logger,
) {
	_, err := session.FollowupMessageCreate(
		interaction,
		true,
		&discordgo.WebhookParams{
			Content: content,
			AllowedMentions: &discordgo.MessageAllowedMentions{
				Parse: []discordgo.AllowedMentionType{},
			},
		},
	)
	if err != nil {
		log.Warn("Failed to send followup", zap.String("interaction_id", interaction.ID), zap.Error(err))
	}
}
