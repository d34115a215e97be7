package template

import (
	"errors"
	"fmt"

	"github.com/S-COULIBALY/express-quote-sub001/pkg/notification"
)

var (
	ErrNotFound        = fmt.Errorf("%w: template not found", notification.ErrTemplate)
	ErrRender          = fmt.Errorf("%w: template failed to render", notification.ErrTemplate)
	ErrInvalidTemplate = errors.New("template: invalid template definition")
	ErrSourceNil       = errors.New("template: source cannot be nil")
	ErrLoadFiles       = errors.New("template: failed to load template files")
)
