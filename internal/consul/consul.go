package consul

import (
	"errors"
	"fmt"

	consulapi "github.com/hashicorp/consul/api"
)

func NewClient(addr string) (*consulapi.Client, error) {
	cfg := consulapi.DefaultConfig()
	cfg.Address = addr
	client, err := consulapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating consul client: %w", err)
	}
	return client, nil
}

// GetServiceAddress returns the address and port of the first passing instance of serviceName.
func GetServiceAddress(client *consulapi.Client, serviceName string) (string, int, error) {
	if client == nil {
		return "", 0, errors.New("consul client is not initialized")
	}
	entries, _, err := client.Health().Service(serviceName, "", true, nil)
	if err != nil {
		return "", 0, fmt.Errorf("querying consul for %s: %w", serviceName, err)
	}
	if len(entries) == 0 {
		return "", 0, fmt.Errorf("no healthy instance of %s", serviceName)
	}
	svc := entries[0].Service
	address := svc.Address
	if address == "" {
		address = entries[0].Node.Address
	}
	return address, svc.Port, nil
}

// RegisterService registers this instance with an HTTP check against /ping.
func RegisterService(client *consulapi.Client, id, name, host string, port int) error {
	reg := &consulapi.AgentServiceRegistration{
		ID:      id,
		Name:    name,
		Address: host,
		Port:    port,
		Check: &consulapi.AgentServiceCheck{
			HTTP:                           fmt.Sprintf("http://%s:%d/ping", host, port),
			Interval:                       "10s",
			Timeout:                        "2s",
			DeregisterCriticalServiceAfter: "1m",
		},
	}
	if err := client.Agent().ServiceRegister(reg); err != nil {
		return fmt.Errorf("registering %s with consul: %w", name, err)
	}
	return nil
}

func DeregisterService(client *consulapi.Client, id string) error {
	return client.Agent().ServiceDeregister(id)
}
