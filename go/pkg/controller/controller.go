package controller

import (
	"context"
	"fmt"
	"sync"

	"github.com/moby/vpnkitrc/go/pkg/vpnkitrc"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	v1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	corev1client "k8s.io/client-go/kubernetes/typed/core/v1"
	"k8s.io/client-go/tools/cache"
)

const anyAddress = "0.0.0.0"

// Controller kubernetes controller used by Docker Desktop
type Controller struct {
	ctx      context.Context
	services corev1client.ServicesGetter
	client   vpnkitrc.Client

	m       sync.Mutex
	exposed map[string]vpnkitrc.Rule
}

var _ cache.ResourceEventHandler = &Controller{}

// New creates a new controller
func New(ctx context.Context, client vpnkitrc.Client, services corev1client.ServicesGetter) *Controller {
	return &Controller{
		ctx:      ctx,
		services: services,
		client:   client,
		exposed:  make(map[string]vpnkitrc.Rule),
	}
}

// Dispose unexpose all ports previously exposed by this controller
func (c *Controller) Dispose(ctx context.Context) {
	c.m.Lock()
	defer c.m.Unlock()
	for key, rule := range c.exposed {
		if err := c.client.UnexposePort(ctx, rule); err != nil {
			log.Infof("cannot unexpose port %s: %v", rule, err)
			continue
		}
		delete(c.exposed, key)
	}
}

// OnAdd exposes port if necessary
func (c *Controller) OnAdd(obj interface{}, _ bool) {
	if err := c.ensureOpened(obj); err != nil {
		log.Errorf("OnAdd failed: %v", err)
	}
}

// OnUpdate exposes port if necessary and closes the ports the service no
// longer has
func (c *Controller) OnUpdate(oldObj, newObj interface{}) {
	if err := c.ensureOpened(newObj); err != nil {
		log.Errorf("OnUpdate failed: %v", err)
		return
	}
	oldService, ok := oldObj.(*v1.Service)
	if !ok {
		return
	}
	newService := newObj.(*v1.Service)
	remaining := serviceRules(newService)
	for _, rule := range serviceRules(oldService) {
		if contains(remaining, rule) {
			continue
		}
		c.unexpose(rule)
	}
}

// OnDelete unexposes port
func (c *Controller) OnDelete(obj interface{}) {
	if tombstone, ok := obj.(cache.DeletedFinalStateUnknown); ok {
		obj = tombstone.Obj
	}
	service, ok := obj.(*v1.Service)
	if !ok {
		log.Errorf("OnDelete handler received an invalid object, was expecting v1.Service")
		return
	}
	for _, rule := range serviceRules(service) {
		c.unexpose(rule)
	}
}

func (c *Controller) ensureOpened(obj interface{}) error {
	service, ok := obj.(*v1.Service)
	if !ok {
		return fmt.Errorf("received an invalid object, was expecting v1.Service")
	}
	opened, err := c.client.List(c.ctx)
	if err != nil {
		return errors.Wrap(err, "cannot list exposed ports")
	}

	for _, rule := range serviceRules(service) {
		if contains(opened, rule) {
			log.Debugf("Port %d for service %s already opened", *rule.InPort, service.Name)
			continue
		}
		if alreadyOpened(opened, rule) {
			log.Errorf("Port %d for service %s is already opened by another service", *rule.InPort, service.Name)
			continue
		}
		if err := c.client.ExposePort(c.ctx, rule); err != nil {
			log.Errorf("cannot expose port %s: %v", rule, err)
			continue
		}
		c.m.Lock()
		c.exposed[rule.String()] = rule
		c.m.Unlock()
		opened = append(opened, rule)
		log.Infof("Opened port %d for service %s:%d", *rule.InPort, service.Name, *rule.OutPort)

		copy := service.DeepCopy()
		copy.Status.LoadBalancer = v1.LoadBalancerStatus{
			Ingress: []v1.LoadBalancerIngress{
				{
					Hostname: "localhost",
				},
			},
		}
		if _, err := c.services.Services(service.Namespace).UpdateStatus(c.ctx, copy, metav1.UpdateOptions{}); err != nil {
			log.Errorf("Cannot update service status %s: %v", service.Name, err)
		}
	}
	return nil
}

func (c *Controller) unexpose(rule vpnkitrc.Rule) {
	if err := c.client.UnexposePort(c.ctx, rule); err != nil {
		log.Errorf("cannot unexpose port %s: %v", rule, err)
		return
	}
	c.m.Lock()
	delete(c.exposed, rule.String())
	c.m.Unlock()
	log.Infof("Closed port %d", *rule.InPort)
}

func contains(s []vpnkitrc.Rule, e vpnkitrc.Rule) bool {
	for _, a := range s {
		if a.Equal(e) {
			return true
		}
	}
	return false
}

// alreadyOpened is true if something else listens on the same port
func alreadyOpened(s []vpnkitrc.Rule, e vpnkitrc.Rule) bool {
	for _, a := range s {
		if a.IsPipe() || a.InPort == nil || a.Proto == nil {
			continue
		}
		if *a.InPort == *e.InPort && *a.Proto == *e.Proto {
			return true
		}
	}
	return false
}

func serviceRules(service *v1.Service) []vpnkitrc.Rule {
	var rules []vpnkitrc.Rule
	for _, servicePort := range service.Spec.Ports {
		rule, err := convert(service, servicePort)
		if err != nil {
			log.Debugf("Discarded service %s: %v", service.Name, err)
			continue
		}
		if rule != nil {
			rules = append(rules, *rule)
		}
	}
	return rules
}

func convert(service *v1.Service, servicePort v1.ServicePort) (*vpnkitrc.Rule, error) {
	var protocol vpnkitrc.Protocol
	switch servicePort.Protocol {
	case v1.ProtocolTCP:
		protocol = vpnkitrc.TCP
	case v1.ProtocolUDP:
		protocol = vpnkitrc.UDP
	default:
		return nil, errors.New("unrecognised servicePort.Protocol " + string(servicePort.Protocol))
	}
	switch service.Spec.Type {
	case v1.ServiceTypeLoadBalancer:
		rule := vpnkitrc.PortRule(protocol, anyAddress, int(servicePort.Port), service.Spec.ClusterIP, int(servicePort.Port))
		return &rule, nil
	case v1.ServiceTypeNodePort:
		if servicePort.NodePort == 0 {
			return nil, errors.New("NodePort is 0")
		}
		rule := vpnkitrc.PortRule(protocol, anyAddress, int(servicePort.NodePort), service.Spec.ClusterIP, int(servicePort.Port))
		return &rule, nil
	case v1.ServiceTypeClusterIP, v1.ServiceTypeExternalName:
		return nil, nil
	default:
		return nil, errors.Errorf("Unknown service type %s", service.Spec.Type)
	}
}
