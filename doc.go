/*
	Copyright NetFoundry Inc.

	Licensed under the Apache License, Version 2.0 (the "License");
	you may not use this file except in compliance with the License.
	You may obtain a copy of the License at

	https://www.apache.org/licenses/LICENSE-2.0

	Unless required by applicable law or agreed to in writing, software
	distributed under the License is distributed on an "AS IS" BASIS,
	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
	See the License for the specific language governing permissions and
	limitations under the License.
*/

/*
Package xweb provides a registry of web elements (servlets, filters, error pages, listeners, welcome files,
container initializers, web sockets and security constraints) contributed by many independent owners, and keeps a
running server in sync with it.

Basics

Every owner registers through its own WebContainer. Registrations target logical contexts (model.OsgiContextModel)
which are bound to physical context paths (model.ServletContextModel). Several logical contexts may share a path,
the best ranked of them is the default context of that path.

All registrations end up in one ServerModel. Elements of the same kind that claim the same key (an url pattern, a
name, an error code) within a path conflict: the best ranked one is active, the others are parked disabled and are
promoted automatically once the winner goes away. How a loss in one path affects the other paths of an element is
decided by the ConflictPolicy.

Batches

The ServerModel never mutates itself while planning. Each registration is planned into a batch.Batch of primitive
changes which is applied to the model and then sent to a ServerController. If the controller fails, the applied
part is undone in the controller and the whole batch is undone in the model. Transactions (WebContainer.Begin and
WebContainer.End) send the registrations of several calls as a single batch.

Configuration

Each Instance defines configuration sections to be parsed. InstanceConfig reads an array of ServerConfig (default
section `web`), each listening on one or more BindPointConfig's, an array of ContextConfig (section `contexts`)
that are turned into logical contexts by the ContextFactory registered for their binding, and the conflict policy
(section `registry`). The server package provides the net/http backed ServerController.

*/
package xweb
