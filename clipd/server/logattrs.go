package server

import "log/slog"

func slogErr(err error) slog.Attr {
	return slog.String("error", err.Error())
}

func slogTaskID(id string) slog.Attr {
	return slog.String("task_id", id)
}
