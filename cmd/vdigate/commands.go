package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/dropDatabas3/vdigate/internal/app"
	"github.com/dropDatabas3/vdigate/internal/ca"
	"github.com/dropDatabas3/vdigate/internal/config"
	"github.com/dropDatabas3/vdigate/internal/http/server"
	"github.com/dropDatabas3/vdigate/internal/jwt"
	"github.com/dropDatabas3/vdigate/internal/observability/logger"
)

// version se pisa en build con -ldflags "-X main.version=..."
var version = "dev"

func newRootCmd() *cobra.Command {
	var envFile string

	root := &cobra.Command{
		Use:           "vdigate",
		Short:         "Gateway de identidad VDI (broker Ory, webapp, verificación de tokens y CA)",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// el .env por defecto es opcional; las variables ya exportadas ganan
			if envFile == "" {
				return nil
			}
			if err := godotenv.Load(envFile); err != nil {
				if cmd.Flags().Changed("env-file") {
					return fmt.Errorf("load env file: %w", err)
				}
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "ruta a .env (opcional)")

	root.AddCommand(newServeCmd(), newKeysCmd(), newCACmd(), newVersionCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var configPath, role string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Levanta el servidor HTTP para el rol configurado",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if role != "" {
				cfg.App.Role = role
			}

			logger.Init(logger.Config{
				Env:         cfg.App.Env,
				Level:       cfg.App.LogLevel,
				ServiceName: "vdigate",
				Version:     version,
				Role:        cfg.App.Role,
			})
			defer func() { _ = logger.Sync() }()
			log := logger.L()
			if cfg.Certificates.Output.ForcedOff {
				log.Warn("certificate output disabled in prod")
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			ctx = logger.ToContext(ctx, log)

			a, err := app.New(ctx, cfg, app.WithVersion(version))
			if err != nil {
				log.Error("startup failed", logger.Err(err))
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					log.Warn("close", logger.Err(err))
				}
			}()

			return server.ListenAndServe(ctx, cfg.Server.Addr, a.Handler)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", os.Getenv("CONFIG_PATH"), "ruta a config.yaml (vacío = solo env)")
	cmd.Flags().StringVar(&role, "role", "", "rol a servir: auth|app|catalog|all (pisa app.role)")
	return cmd
}

func newKeysCmd() *cobra.Command {
	keys := &cobra.Command{
		Use:   "keys",
		Short: "Manejo del key set de tokens de sesión",
	}

	var kid, out string
	var bits int
	gen := &cobra.Command{
		Use:   "gen",
		Short: "Genera un key set RSA (JWKS con clave privada) para firmar tokens de sesión",
		RunE: func(cmd *cobra.Command, args []string) error {
			if kid == "" {
				kid = time.Now().UTC().Format("session-20060102")
			}
			doc, err := jwt.GenerateRSAKeySet(kid, bits)
			if err != nil {
				return err
			}
			if err := writeSecret(out, doc); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "key set written to %s (kid=%s)\n", out, kid)
			return nil
		},
	}
	gen.Flags().StringVar(&kid, "kid", "", "key id (default session-YYYYMMDD)")
	gen.Flags().IntVar(&bits, "bits", 2048, "tamaño de la clave RSA")
	gen.Flags().StringVar(&out, "out", "session.jwks.json", "archivo de salida")

	keys.AddCommand(gen)
	return keys
}

func newCACmd() *cobra.Command {
	caCmd := &cobra.Command{
		Use:   "ca",
		Short: "Autoridad certificante de máquinas",
	}

	var dir, cn, org, country string
	var validity time.Duration
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Genera una CA raíz autofirmada (rootCA.crt.pem + rootCA.key.pem)",
		RunE: func(cmd *cobra.Command, args []string) error {
			certPEM, keyPEM, err := ca.GenerateRoot(cn, org, country, validity)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return err
			}
			certPath := filepath.Join(dir, "rootCA.crt.pem")
			if err := os.WriteFile(certPath, certPEM, 0o644); err != nil {
				return err
			}
			if err := writeSecret(filepath.Join(dir, "rootCA.key.pem"), keyPEM); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "root CA written to %s\n", dir)
			return nil
		},
	}
	initCmd.Flags().StringVar(&dir, "dir", ".", "directorio de salida")
	initCmd.Flags().StringVar(&cn, "cn", "Greenion Root CA", "common name")
	initCmd.Flags().StringVar(&org, "org", "GREENION", "organización")
	initCmd.Flags().StringVar(&country, "country", "FR", "país (ISO 3166)")
	initCmd.Flags().DurationVar(&validity, "validity", 10*365*24*time.Hour, "vigencia")

	caCmd.AddCommand(initCmd)
	return caCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Imprime la versión",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

// writeSecret crea path con 0600 y falla si ya existe.
func writeSecret(path string, b []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
