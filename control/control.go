// Copyright 2025 LiveKit, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// 	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package control exposes the service on the system bus. Method handlers
// run on D-Bus worker goroutines and hop onto the event loop for every
// interaction with the service; replies are completed once the loop-side
// work finished.
package control

import (
	"errors"
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/godbus/dbus/v5/prop"

	"github.com/livekit/protocol/logger"

	"github.com/livekit/miracast-ctl"
	"github.com/livekit/miracast-ctl/eventloop"
	"github.com/livekit/miracast-ctl/service"
)

const (
	BusName      = "org.freedesktop.miracast"
	ObjectPath   = dbus.ObjectPath("/")
	ManagerIface = "org.freedesktop.miracast.Manager"
)

// deviceRecord is one entry of the Devices property, wire type (ssyas).
type deviceRecord struct {
	Address string
	Name    string
	State   byte
	Roles   []string
}

// Controller is the bus-facing skeleton around the service. It implements
// service.Observer; the service invokes those callbacks on the event loop.
type Controller struct {
	log  logger.Logger
	loop *eventloop.Loop
	svc  *service.Service

	conn  *dbus.Conn
	props *prop.Properties
}

func NewController(log logger.Logger, loop *eventloop.Loop) *Controller {
	return &Controller{log: log, loop: loop}
}

// SetService binds the controller to the service it fronts. Must happen
// before Start.
func (c *Controller) SetService(svc *service.Service) {
	c.svc = svc
}

// Start connects to the system bus, exports the manager object and claims
// the well-known name.
func (c *Controller) Start() error {
	conn, err := dbus.SystemBus()
	if err != nil {
		return fmt.Errorf("control: connect system bus: %w", err)
	}
	c.conn = conn

	if err := conn.Export((*managerObject)(c), ObjectPath, ManagerIface); err != nil {
		return fmt.Errorf("control: export manager object: %w", err)
	}

	props, err := prop.Export(conn, ObjectPath, c.propsSpec())
	if err != nil {
		return fmt.Errorf("control: export properties: %w", err)
	}
	c.props = props

	if err := conn.Export(introspect.Introspectable(introspectXML), ObjectPath,
		"org.freedesktop.DBus.Introspectable"); err != nil {
		return fmt.Errorf("control: export introspection: %w", err)
	}

	reply, err := conn.RequestName(BusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("control: request name %s: %w", BusName, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return fmt.Errorf("control: name %s already taken", BusName)
	}

	c.log.Infow("control surface up", "busName", BusName)
	return nil
}

// Stop releases the bus name and closes the connection.
func (c *Controller) Stop() {
	if c.conn == nil {
		return
	}
	_, _ = c.conn.ReleaseName(BusName)
	_ = c.conn.Close()
	c.conn = nil
}

func (c *Controller) propsSpec() prop.Map {
	return prop.Map{
		ManagerIface: {
			"State":        {Value: miracast.StateIdle.String(), Emit: prop.EmitTrue},
			"Scanning":     {Value: false, Emit: prop.EmitTrue},
			"Enabled":      {Value: false, Emit: prop.EmitTrue},
			"Capabilities": {Value: []string{}, Emit: prop.EmitTrue},
			"Devices":      {Value: []deviceRecord{}, Emit: prop.EmitTrue},
		},
	}
}

// callOnLoop runs fn on the event loop and blocks the bus worker until fn
// signals completion.
func (c *Controller) callOnLoop(fn func(done func(err error))) *dbus.Error {
	ch := make(chan error, 1)
	c.loop.Post(func() {
		fn(func(err error) { ch <- err })
	})
	return busError(<-ch)
}

func busError(err error) *dbus.Error {
	if err == nil {
		return nil
	}
	var kind miracast.Error
	if errors.As(err, &kind) {
		return dbus.NewError(kind.BusName(), nil)
	}
	return dbus.MakeFailedError(err)
}

func (c *Controller) lookupDevice(address string) *miracast.Device {
	for _, dev := range c.svc.Devices() {
		if dev.Address == address {
			return dev
		}
	}
	return nil
}

// managerObject carries the exported methods; any other Controller method
// stays off the bus.
type managerObject Controller

func (o *managerObject) Scan() *dbus.Error {
	c := (*Controller)(o)
	return c.callOnLoop(func(done func(err error)) {
		done(c.svc.Scan(0))
	})
}

func (o *managerObject) Connect(address string) *dbus.Error {
	c := (*Controller)(o)
	return c.callOnLoop(func(done func(err error)) {
		c.svc.Connect(c.lookupDevice(address), done)
	})
}

func (o *managerObject) Disconnect(address string) *dbus.Error {
	c := (*Controller)(o)
	return c.callOnLoop(func(done func(err error)) {
		c.svc.Disconnect(c.lookupDevice(address), done)
	})
}

func (o *managerObject) DisconnectAll() *dbus.Error {
	c := (*Controller)(o)
	return c.callOnLoop(func(done func(err error)) {
		c.svc.DisconnectAll(done)
	})
}

func (o *managerObject) SetEnabled(enabled bool) *dbus.Error {
	c := (*Controller)(o)
	return c.callOnLoop(func(done func(err error)) {
		c.svc.SetEnabled(enabled)
		done(nil)
	})
}

// service.Observer; all callbacks arrive on the event loop.

func (c *Controller) OnChanged() {
	c.refreshProperties()
	c.emit("Changed")
}

func (c *Controller) OnStateChanged(state miracast.DeviceState) {
	c.setProp("State", state.String())
	c.emit("StateChanged", state.String())
}

func (c *Controller) OnDeviceFound(dev *miracast.Device) {
	c.refreshProperties()
	c.emit("DeviceFound", dev.Address, dev.Name, dev.State.String())
}

func (c *Controller) OnDeviceLost(dev *miracast.Device) {
	c.refreshProperties()
	c.emit("DeviceLost", dev.Address, dev.Name, dev.State.String())
}

func (c *Controller) OnDeviceChanged(dev *miracast.Device) {
	c.refreshProperties()
	c.emit("DeviceChanged", dev.Address, dev.Name, dev.State.String())
}

func (c *Controller) emit(signal string, values ...interface{}) {
	if c.conn == nil {
		return
	}
	if err := c.conn.Emit(ObjectPath, ManagerIface+"."+signal, values...); err != nil {
		c.log.Warnw("failed to emit signal", err, "signal", signal)
	}
}

func (c *Controller) setProp(name string, value interface{}) {
	if c.props == nil {
		return
	}
	c.props.SetMust(ManagerIface, name, value)
}

func (c *Controller) refreshProperties() {
	caps := make([]string, 0, 1)
	for _, role := range c.svc.Capabilities() {
		caps = append(caps, role.String())
	}

	devices := make([]deviceRecord, 0, len(c.svc.Devices()))
	for _, dev := range c.svc.Devices() {
		roles := make([]string, 0, len(dev.Roles))
		for _, role := range dev.Roles {
			roles = append(roles, role.String())
		}
		devices = append(devices, deviceRecord{
			Address: dev.Address,
			Name:    dev.Name,
			State:   byte(dev.State),
			Roles:   roles,
		})
	}

	c.setProp("Scanning", c.svc.Scanning())
	c.setProp("Enabled", c.svc.Enabled())
	c.setProp("Capabilities", caps)
	c.setProp("Devices", devices)
}

const introspectXML = `
<node>
	<interface name="org.freedesktop.miracast.Manager">
		<method name="Scan"/>
		<method name="Connect">
			<arg name="address" type="s" direction="in"/>
		</method>
		<method name="Disconnect">
			<arg name="address" type="s" direction="in"/>
		</method>
		<method name="DisconnectAll"/>
		<method name="SetEnabled">
			<arg name="enabled" type="b" direction="in"/>
		</method>
		<property name="State" type="s" access="read"/>
		<property name="Scanning" type="b" access="read"/>
		<property name="Enabled" type="b" access="read"/>
		<property name="Capabilities" type="as" access="read"/>
		<property name="Devices" type="a(ssyas)" access="read"/>
		<signal name="Changed"/>
		<signal name="StateChanged">
			<arg name="state" type="s"/>
		</signal>
		<signal name="DeviceFound">
			<arg name="address" type="s"/>
			<arg name="name" type="s"/>
			<arg name="state" type="s"/>
		</signal>
		<signal name="DeviceLost">
			<arg name="address" type="s"/>
			<arg name="name" type="s"/>
			<arg name="state" type="s"/>
		</signal>
		<signal name="DeviceChanged">
			<arg name="address" type="s"/>
			<arg name="name" type="s"/>
			<arg name="state" type="s"/>
		</signal>
	</interface>
</node>`
