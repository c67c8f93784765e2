package wechatwork

import "devconsole/internal/auth/ports"

// MapProfile projects a member profile onto the identity shape used by the
// auth service. It has no side effects.
func MapProfile(profile Profile) ports.OAuthUserInfo {
	return ports.OAuthUserInfo{
		ProviderID:  profile.UserID,
		DisplayName: profile.Name,
		Email:       profile.Email,
		AvatarURL:   profile.Avatar,
	}
}
