// Package daemon maps the OS service lifecycle onto the poller: service start
// launches the application, service stop requests shutdown.
package daemon

import (
	"time"

	kardianos "github.com/kardianos/service"
)

// stopGrace bounds how long Stop lets an in-flight transfer finish.
const stopGrace = 15 * time.Second

var _ kardianos.Interface = (*DaemonManager)(nil)
