/*
 * @Author: NEFU AB-IN
 * @Date: 2025-10-09 20:22:45
 * @FilePath: \newsroom-cms\backend\internal\infra\captcha\config.go
 * @LastEditTime: 2025-10-20 15:21:09
 */
package captcha

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// 环境变量字段名称常量，避免散落的硬编码。
const (
	envCaptchaPrefix          = "CAPTCHA_PREFIX"
	envCaptchaTTL             = "CAPTCHA_TTL"
	envCaptchaWidth           = "CAPTCHA_WIDTH"
	envCaptchaHeight          = "CAPTCHA_HEIGHT"
	envCaptchaLength          = "CAPTCHA_LENGTH"
	envCaptchaMaxSkew         = "CAPTCHA_MAX_SKEW"
	envCaptchaDotCount        = "CAPTCHA_DOT_COUNT"
	envCaptchaRateLimit       = "CAPTCHA_RATE_LIMIT_PER_MIN"
	envCaptchaRateLimitWindow = "CAPTCHA_RATE_LIMIT_WINDOW"
)

// LoadOptionsFromEnv 解析验证码图像与限流参数。是否启用由业务配置 CAPTCHA_ENABLED 决定。
// 任一字段格式非法都会返回错误，方便在启动阶段及时终止。
func LoadOptionsFromEnv() (Options, error) {
	opts := Options{Prefix: strings.TrimSpace(os.Getenv(envCaptchaPrefix))}

	var err error
	if opts.TTL, err = envDuration(envCaptchaTTL); err != nil {
		return Options{}, err
	}
	if opts.Width, err = envInt(envCaptchaWidth); err != nil {
		return Options{}, err
	}
	if opts.Height, err = envInt(envCaptchaHeight); err != nil {
		return Options{}, err
	}
	if opts.Length, err = envInt(envCaptchaLength); err != nil {
		return Options{}, err
	}
	if opts.DotCount, err = envInt(envCaptchaDotCount); err != nil {
		return Options{}, err
	}
	if opts.RateLimitPerMin, err = envInt(envCaptchaRateLimit); err != nil {
		return Options{}, err
	}
	if opts.RateLimitWindow, err = envDuration(envCaptchaRateLimitWindow); err != nil {
		return Options{}, err
	}
	if raw := strings.TrimSpace(os.Getenv(envCaptchaMaxSkew)); raw != "" {
		skew, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Options{}, fmt.Errorf("parse %s: %w", envCaptchaMaxSkew, err)
		}
		opts.MaxSkew = skew
	}
	return opts, nil
}

func envInt(key string) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return value, nil
}

func envDuration(key string) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return value, nil
}
