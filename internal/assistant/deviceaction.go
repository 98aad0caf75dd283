package assistant

// ExecuteIntent is the only device-action intent that carries commands.
const ExecuteIntent = "action.devices.EXECUTE"

// DeviceActionRequest is the payload of an ON_DEVICE_ACTION event.
type DeviceActionRequest struct {
	RequestID string              `json:"requestId,omitempty"`
	Inputs    []DeviceActionInput `json:"inputs"`
}

type DeviceActionInput struct {
	Intent  string             `json:"intent"`
	Payload DeviceActionTarget `json:"payload"`
}

type DeviceActionTarget struct {
	Commands []DeviceActionCommand `json:"commands"`
}

type DeviceActionCommand struct {
	Devices   []DeviceRef `json:"devices"`
	Execution []Execution `json:"execution,omitempty"`
}

type DeviceRef struct {
	ID string `json:"id"`
}

type Execution struct {
	Command string         `json:"command"`
	Params  map[string]any `json:"params,omitempty"`
}

// Command is one requested action against this device. Params is nil when
// the request carried none.
type Command struct {
	Name   string
	Params map[string]any
}

// Commands returns, in source order, every execution addressed to deviceID
// under an EXECUTE intent.
func (r DeviceActionRequest) Commands(deviceID string) []Command {
	var out []Command
	for _, input := range r.Inputs {
		if input.Intent != ExecuteIntent {
			continue
		}
		for _, cmd := range input.Payload.Commands {
			for _, dev := range cmd.Devices {
				if dev.ID != deviceID {
					continue
				}
				for _, exe := range cmd.Execution {
					c := Command{Name: exe.Command}
					if len(exe.Params) > 0 {
						c.Params = exe.Params
					}
					out = append(out, c)
				}
			}
		}
	}
	return out
}
