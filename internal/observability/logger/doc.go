// Package logger expone un logger Zap único con scoping por contexto.
//
// Una sola instancia global se inicializa con Init() desde cmd/vdigate. Cada
// request lleva su propio logger "scoped" (request_id, method, path) inyectado
// por middlewares.WithLogging y recuperado con From(ctx).
//
// "dev" escribe en consola con colores, "prod" escribe JSON. "test" descarta
// todo salvo que se pida nivel debug.
//
// Nunca se loguean tokens ni credenciales completos: para errores de verificación
// se usa ErrorClass con la clase del error, y los emails pasan por util.MaskEmail.
//
//	logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.Log.Level, ServiceName: "vdigate"})
//	defer logger.Sync()
//
//	log := logger.From(ctx).With(logger.Layer("service"), logger.Op("IssueCertificate"))
//	log.Info("certificate issued", logger.MachineID(id))
package logger
