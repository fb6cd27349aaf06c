// HeatLink - Multi-Source News Aggregation Engine
// Copyright 2026 losesky
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/losesky/heatlink

package models

import (
	"fmt"
	"net/url"
	"time"
)

// ProxyProtocol is the outbound proxy scheme.
type ProxyProtocol string

const (
	ProxySOCKS5 ProxyProtocol = "socks5"
	ProxyHTTP   ProxyProtocol = "http"
	ProxyHTTPS  ProxyProtocol = "https"
)

// ProxyStatus tracks proxy usability.
type ProxyStatus string

const (
	ProxyActive   ProxyStatus = "ACTIVE"
	ProxyInactive ProxyStatus = "INACTIVE"
	ProxyError    ProxyStatus = "ERROR"
	// ProxyBanned marks proxies rejected by the target site rather
	// than unreachable.
	ProxyBanned ProxyStatus = "BANNED"
)

// ProxyConfig is one outbound proxy from the proxy_configs catalog table.
type ProxyConfig struct {
	ID       int64         `json:"id" db:"id"`
	Name     string        `json:"name" db:"name"`
	Protocol ProxyProtocol `json:"protocol" db:"protocol"`
	Host     string        `json:"host" db:"host"`
	Port     int           `json:"port" db:"port"`
	Username string        `json:"username,omitempty" db:"username"`
	Password string        `json:"-" db:"password"`
	Group    string        `json:"group" db:"proxy_group"`
	Priority int           `json:"priority" db:"priority"`
	Status   ProxyStatus   `json:"status" db:"status"`

	SuccessRate     float64    `json:"success_rate" db:"success_rate"`
	AvgResponseTime float64    `json:"avg_response_time" db:"avg_response_time"`
	LastCheckTime   *time.Time `json:"last_check_time,omitempty" db:"last_check_time"`
	LastError       string     `json:"last_error,omitempty" db:"last_error"`
}

// URL renders the proxy as a transport-usable URL, including
// credentials when present.
func (p *ProxyConfig) URL() *url.URL {
	u := &url.URL{
		Scheme: string(p.Protocol),
		Host:   fmt.Sprintf("%s:%d", p.Host, p.Port),
	}
	if p.Username != "" {
		if p.Password != "" {
			u.User = url.UserPassword(p.Username, p.Password)
		} else {
			u.User = url.User(p.Username)
		}
	}
	return u
}
