package configuration

import (
	"github.com/go-playground/validator/v10"
)

func (c LogIngesterConfiguration) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return err
	}

	switch c.Store.Type {
	case StoreMongo:
		if err := validate.Struct(c.Store.Mongo); err != nil {
			return err
		}
	case StoreRedis:
		if err := validate.Struct(c.Store.Redis); err != nil {
			return err
		}
	case StorePostgres:
		if err := validate.Struct(c.Store.Postgres); err != nil {
			return err
		}
	}

	switch c.DeadLetter.Type {
	case DeadLetterFile:
		return validate.Struct(c.DeadLetter.File)
	case DeadLetterPulsar:
		return validate.Struct(c.DeadLetter.Pulsar)
	}
	return nil
}
