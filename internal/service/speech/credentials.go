package speech

import (
	"errors"
	"strings"

	speechmodel "github.com/zhouzirui/z-insight/backend/internal/model/speech"
)

// ErrMissingCredentials 表示火山引擎语音配置不完整。
var ErrMissingCredentials = errors.New("火山引擎语音配置缺少 AppID 或 AccessToken")

// resolveCredentials 返回规范化后的 AppID 与 AccessToken；AccessToken 为空时退回 APIKey。
func resolveCredentials(cfg *speechmodel.SpeechConfig) (appID, token string, err error) {
	if cfg == nil {
		return "", "", ErrMissingCredentials
	}
	appID = strings.TrimSpace(cfg.AppID)
	token = strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		token = strings.TrimSpace(cfg.APIKey)
	}
	if appID == "" || token == "" {
		return "", "", ErrMissingCredentials
	}
	return appID, token, nil
}

// hasCredentials 判断是否可以使用火山引擎识别。
func hasCredentials(cfg *speechmodel.SpeechConfig) bool {
	_, _, err := resolveCredentials(cfg)
	return err == nil
}
