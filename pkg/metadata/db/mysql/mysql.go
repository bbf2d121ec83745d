// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package mysql provides a MySQL implementation of the db.DB interface.
package mysql

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/LeeDigitalWorks/tams/pkg/metadata/db"
	dbsql "github.com/LeeDigitalWorks/tams/pkg/metadata/db/sql"

	"github.com/go-sql-driver/mysql"
)

// TLSMode specifies how TLS should be configured for MySQL connections
type TLSMode string

const (
	TLSModeDisabled  TLSMode = "disabled"
	TLSModePreferred TLSMode = "preferred"
	// TLSModeRequired encrypts but skips certificate verification
	TLSModeRequired TLSMode = "required"
	// TLSModeVerifyCA verifies the server certificate against TLSCAFile
	TLSModeVerifyCA TLSMode = "verify-ca"
)

const customTLSConfigName = "tams-custom"

// Config holds MySQL connection configuration
type Config struct {
	dbsql.Config

	TLSMode   TLSMode
	TLSCAFile string
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig(dsn string) Config {
	return Config{Config: dbsql.DefaultConfig(dsn, db.DriverMySQL)}
}

// MySQL implements db.DB using MySQL as the backing store
type MySQL struct {
	*dbsql.Store
}

// NewMySQL opens and pings a MySQL-backed database
func NewMySQL(cfg Config) (*MySQL, error) {
	dsn, err := configureDSN(cfg)
	if err != nil {
		return nil, err
	}
	sqlCfg := cfg.Config
	sqlCfg.DSN = dsn
	sqlCfg.Driver = db.DriverMySQL

	store, err := dbsql.Open("mysql", dbsql.MySQLDialect{}, sqlCfg)
	if err != nil {
		return nil, err
	}
	return &MySQL{Store: store}, nil
}

// configureDSN parses the DSN, forces parseTime so DATETIME columns scan
// into time.Time, and applies the TLS mode.
func configureDSN(cfg Config) (string, error) {
	mc, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return "", fmt.Errorf("parse DSN: %w", err)
	}
	mc.ParseTime = true

	switch cfg.TLSMode {
	case "", TLSModeDisabled:
		mc.TLSConfig = ""
	case TLSModePreferred:
		mc.TLSConfig = "preferred"
	case TLSModeRequired:
		mc.TLSConfig = "skip-verify"
	case TLSModeVerifyCA:
		tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
		if cfg.TLSCAFile != "" {
			caCert, err := os.ReadFile(cfg.TLSCAFile)
			if err != nil {
				return "", fmt.Errorf("read CA file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caCert) {
				return "", fmt.Errorf("failed to append CA certificate")
			}
			tlsConfig.RootCAs = pool
		}
		if err := mysql.RegisterTLSConfig(customTLSConfigName, tlsConfig); err != nil {
			return "", fmt.Errorf("register TLS config: %w", err)
		}
		mc.TLSConfig = customTLSConfigName
	default:
		return "", fmt.Errorf("unknown TLS mode: %s", cfg.TLSMode)
	}

	return mc.FormatDSN(), nil
}

var _ db.DB = (*MySQL)(nil)
