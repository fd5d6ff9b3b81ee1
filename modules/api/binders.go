package api

import (
	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/minutes/handler"
	"github.com/dmitrymomot/minutes/pkg/binder"
)

var (
	jsonBinders = []handler.Bind{binder.JSON(binder.AllowUnknownFields()), binder.Validate()}
	pathBinders = []handler.Bind{binder.Path(chi.URLParam), binder.Validate()}
)
